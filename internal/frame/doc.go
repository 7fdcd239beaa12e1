// Package frame implements the wire format exchanged with interpreter
// processes: one compact JSON object per line, UTF-8 encoded.
//
//	{"event":"name","data":[1,2,3]}
//
// Outbound events carry arbitrary Go values in Data. Inbound frames keep
// their arguments as raw JSON so subscribers decode only what they need.
package frame
