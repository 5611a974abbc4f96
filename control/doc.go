// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package control implements the control link between a datapipe.Receiver
// and a data source, using JSON-RPC 2.0 via the jrpc2 package.
//
// The receiver side of the link is a *Link, which satisfies the
// datapipe.ControlLink interface. The source side is a *Source, whose methods
// are served by a jrpc2 server with server push enabled (see Serve).
//
// The link uses the following methods:
//
//	DataSource.Init     {"handle": string}              receiver → source, call
//	DataSource.Resume   (no parameters)                 receiver → source, notification
//	DataReceiver.OnError {"offset": uint64, "code": int32} source → receiver, push notification
//
// Handles name channel write ends in a channel.Registry shared by both sides,
// so the two ends of a link must run in the same process.
package control

// Method names used on the control link.
const (
	MethodInit    = "DataSource.Init"
	MethodResume  = "DataSource.Resume"
	MethodOnError = "DataReceiver.OnError"
)

// InitParams are the parameters of the DataSource.Init method.
type InitParams struct {
	Handle string `json:"handle"`
}

// ErrorParams are the parameters of the DataReceiver.OnError notification.
type ErrorParams struct {
	Offset uint64 `json:"offset"`
	Code   int32  `json:"code"`
}
