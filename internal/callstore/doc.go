// Package callstore provides the in-memory runtime view of active calls:
// buffered transcript turns and the latest carrier status per call SID.
// Status and transcript state are guarded independently so callback handling
// never contends with transcript drains.
package callstore
