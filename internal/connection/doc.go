// Package connection implements the chat Connection Manager.
//
// The Connection Manager:
//   - Owns exactly one logical connection per session and its ConnectionState
//   - Fetches the history snapshot on every successful (re)connection
//   - Buffers live events that arrive before the snapshot and replays them after it
//   - Reconnects with a bounded backoff schedule whose last delay repeats forever
//   - Delivers history, live messages and state changes on one goroutine, in order
//
// The WebSocket transport speaks a small JSON envelope:
//
//	-> {"type":"invocation","id":"<uuid>","method":"FetchHistory","args":[]}
//	<- {"type":"completion","id":"<uuid>","result":[...]}
//	<- {"type":"event","name":"ReceiveMessage","data":{"author":"ann","body":"hi","sentAt":"..."}}
package connection
