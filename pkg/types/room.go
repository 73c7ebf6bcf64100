package types

import "strings"

// Room labels the scene model may return.
const (
	RoomKitchen    = "Kitchen"
	RoomLivingRoom = "Living Room"
	RoomBedroom    = "Bedroom"
	RoomBathroom   = "Bathroom"
	RoomOffice     = "Office"
	RoomGarage     = "Garage"
	RoomOutdoors   = "Outdoors"
	RoomCloseUp    = "Close-up"
	RoomUnknown    = "Unknown"
)

// Ambiguous markers that carry no location information.
const (
	RoomSurface = "Surface"
	RoomWall    = "Wall"
	RoomFloor   = "Floor"
	RoomObject  = "Object"
)

// DefiniteRooms lists the labels that identify an actual location.
var DefiniteRooms = []string{
	RoomKitchen,
	RoomLivingRoom,
	RoomBedroom,
	RoomBathroom,
	RoomOffice,
	RoomGarage,
	RoomOutdoors,
}

// SceneRooms lists every label offered to the scene model.
var SceneRooms = append(append([]string{}, DefiniteRooms...), RoomCloseUp, RoomUnknown)

// AmbiguousRooms is the set of labels that trigger room inheritance.
var AmbiguousRooms = []string{
	RoomUnknown,
	RoomCloseUp,
	RoomSurface,
	RoomWall,
	RoomFloor,
	RoomObject,
}

// IsAmbiguousRoom reports whether label is empty or one of AmbiguousRooms.
func IsAmbiguousRoom(label string) bool {
	label = strings.TrimSpace(label)
	if label == "" {
		return true
	}
	for _, r := range AmbiguousRooms {
		if label == r {
			return true
		}
	}
	return false
}

// CanonicalRoom maps a label to its canonical spelling in DefiniteRooms,
// ignoring case. ok is false when the label names no definite room.
func CanonicalRoom(label string) (room string, ok bool) {
	label = strings.TrimSpace(label)
	for _, r := range DefiniteRooms {
		if strings.EqualFold(label, r) {
			return r, true
		}
	}
	return "", false
}
