package canvas

// Logging convention in the `canvas` package:
// Info:
//     essential events for abnormal behavior. This level should be silent on
//     normal operation, with the exception of one time (infrequent)
//     initialization data that is useful for monitoring
//     this includes:
//     - subscription setup failures and reconnects
//     - write failures surfaced into session state
// Error:
//     unrecoverable crash details
// Debug (verbose level 2):
//     key events for trace debugging
//     this includes:
//     - per-stroke fold decisions (append, replace, suppress) with ids
//     - session lifecycle transitions
