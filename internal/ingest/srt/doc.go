// Package srt feeds the ingest registry from SRT (Secure Reliable
// Transport): a listener (Server) accepts publishers, and a Caller pulls
// from remote SRT listeners. The stream key's extension selects the
// container format.
package srt
