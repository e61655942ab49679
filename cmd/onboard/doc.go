// Command onboard drives the library onboarding flow from the terminal.
//
// Flow state, the telemetry preference, the current selection and the
// library catalog are persisted in the configured store, so a flow can be
// walked step by step across invocations:
//
//	onboard step NewLibrary name="My Library"
//	onboard step Privacy shareTelemetry=minimal-telemetry
//	onboard list
package main
