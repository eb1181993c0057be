// Package domain models flood conditions at the two road entrances of
// Shabbington village: crowd-reported road passability and Environment
// Agency (EA) river and rainfall telemetry.
//
// # Road observations
//
// Observations are immutable facts appended to a log. Each one carries the
// road it describes, a passability status, how directly the reporter saw it
// (confidence), an optional comment and the submitter fingerprint.
//
// Status values are ordered by severity and persisted as integers:
//
//	1 CLEAR           passable in any car
//	2 CAUTION         small cars risky
//	3 HIGH_CLEARANCE  4x4 or high clearance only
//	4 CLOSED          do not attempt
//	5 UNKNOWN         no data; a display sentinel, never a vote
//
// Confidence values weight each vote when computing the displayed status:
//
//	DROVE_IT  1.0   first-hand, drove through it
//	SAW_IT    0.8   walked past or looked
//	HEARD_IT  0.3   second-hand
//
// Any other confidence value is weighted [DefaultConfidenceWeight].
//
// # EA flood-monitoring conventions
//
// Readings arrive as JSON objects with an "items" array of
// {"dateTime": "2024-01-15T09:45:00Z", "value": 1.234}. River levels are
// metres above stage datum; rainfall readings are millimetres per
// 15-minute period. Stations report on inconsistent schedules, so
// rainfall windows are computed from whatever readings fall inside them.
// Negative and zero rainfall readings are sensor artefacts and never
// contribute to a total.
//
// Station discovery returns items with an "@id" URL whose last path
// segment is the station reference, e.g.
// "http://environment.data.gov.uk/flood-monitoring/id/stations/E7050" -> "E7050".
//
// # Fingerprints
//
// Submitters are identified only by a salted SHA-256 of their network
// address ([Fingerprint]). The raw address never reaches storage or logs.
package domain
