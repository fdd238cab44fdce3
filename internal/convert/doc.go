// Package convert runs one MIDI to MusicXML conversion per request.
//
// A conversion allocates a workspace, stores the upload, runs the converter
// under the supervisor and hands back the produced artifact. The caller
// streams the artifact and then calls Release, which removes the workspace
// after a short delay. Failed conversions remove their workspace at once.
package convert
