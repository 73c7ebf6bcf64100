// Package vision talks to the two image models used at ingestion.
//
// SceneModel asks a vision chat model for a strict-JSON {room, description}
// reading of the photo. Detector starts an asynchronous object-detection
// prediction and reads its status; package poller drives it to completion.
// ParseLabels normalizes the detection output into unique lowercase labels.
package vision
