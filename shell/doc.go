/*
Package shell manages a long-lived interactive interpreter session. A Session spawns the native
command interpreter as a child process, keeps its stdin connected, and continuously drains stdout
and stderr in the background, forwarding buffered output to a Sink as discrete chunks.

Output is buffered at character granularity rather than line granularity: a chunk is flushed both
when a newline is seen and when the stream has no further bytes immediately available. Interactive
interpreters write prompts and other partial lines without a trailing newline, and those must still
reach the consumer promptly.

If the interpreter exits while the session still expects it to run, the session emits one
error-flagged notice chunk and respawns the interpreter, preserving the logical session. A
deliberate Dispose tears the process down without a respawn.

Sessions are scoped to their owner: dispose them when done, or the interpreter process leaks.
*/
package shell
