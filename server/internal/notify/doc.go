// Package notify decides what the operator sees.
//
// The Orchestrator keeps one target per notification kind:
//
//   - critical-host: a 15s modal per host entering critical, acknowledged on
//     dismissal until the host leaves critical
//   - disk: a 15s modal per host whose primary disk passes 85%, acknowledged
//     until usage falls below 80%
//   - failed-service: a persistent alert for the first host with a failed
//     service; its countdown minimizes it, and it is cleared only when no
//     host has a failed service
//   - recovery: a 7s modal per host whose failed services came back; further
//     recoveries wait in a FIFO queue
//
// Countdowns run on sched timers armed through the Timers interface and come
// back through OnTimer on the loop goroutine.
//
// Webhooks renders service failures and recoveries from templates carrying
// {hostname} and {services} and posts them to slack, teams or plain http
// targets.
package notify
