// Package logger provides the structured logging interface used across tweetdigest.
//
// It wraps zerolog behind a small Logger interface so that pipeline stages,
// adapters and tests can swap implementations:
//
//   - New builds a console (or JSON) logger from config.LoggingConfig, optionally
//     teeing to a file.
//   - NewNopLogger discards everything.
//   - NewTestLogger records messages in memory for assertions.
//
// Fields are bound with WithField/WithFields and travel with the child logger:
//
//	log := logger.GetLogger().WithField("run_id", runID)
//	log.InfoWithFields("Fetched records", map[string]interface{}{
//	    "records": len(records),
//	})
//
// The helpers in this package (LogRequest, LogStage, LogMediaFetch) keep field
// names consistent between components.
package logger
