// Package voice speaks alerts aloud.
//
// The Announcer decides what to say: per tick it collects newly crossed
// resource bands and newly failed or recovered services, groups them by host
// and phrases them for the configured locale (en, pt-BR). Nothing is spoken
// until an operator unlocks audio; the unlock is persisted. After a failure
// announcement a single re-check is armed, and the same text is repeated only
// if every service from that batch is still failing.
//
// The Speaker plays the result. It runs Idle -> Requesting -> Playing -> Idle
// with at most one utterance in flight; a newer utterance, or Stop on its
// topic, cancels the current one. TTS failures fall back to a generated chime.
package voice
