// Package remote shares a Device with other processes over a unix socket.
//
// A Server hands every connecting client the Device's memfd with SCM_RIGHTS.
// Commands are forwarded to the Device's dispatcher. A map request is
// answered with the frames backing the object; the client installs them into
// its own address space with the same page loop the Device uses, so all
// processes alias the same physical pages.
//
// Lock blocks the requesting connection until the lock is acquired. If the
// connection drops while waiting, the pending Lock is cancelled. A Client
// sends Lock on a connection of its own, so one goroutine waiting for the
// lock does not hold up Unlock or map requests from others.
package remote
