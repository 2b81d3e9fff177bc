// Package engine drives one outbound call end to end: placing it through
// the carrier, polling its status, draining live transcript turns, feeding
// scripted lines when a scenario is active, and extracting booking slots
// once the call ends. Each call is executed by a single sequential driver;
// calls share nothing with each other except the runtime store.
package engine
