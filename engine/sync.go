package engine

// diskSyncJob is a one-shot scheduler.Job that fsyncs f's data file once
// enough write-backs have accumulated since the last sync.
type diskSyncJob struct {
	f *File
}

func (j *diskSyncJob) DoIt() {
	j.f.Sync()
}

// Sync fsyncs the data file, re-applies the write_called bit for every
// block whose write-back landed while the sync was in flight (deferred
// rather than set immediately, so a concurrent header write can't race
// past them), and rewrites the .cinfo header so the present bits on disk
// reflect everything written back so far. If writes accumulated past the
// threshold again while this sync ran, it schedules another one
// immediately rather than waiting for the next write-back to notice.
func (f *File) Sync() {
	if err := f.data.Fsync(); err != nil {
		f.logger.Warn("engine: data fsync failed", "path", f.path, "err", err)
	}

	f.mu.Lock()
	if err := f.cfi.WriteHeader(f.info); err != nil {
		f.logger.Warn("engine: info header write failed", "path", f.path, "err", err)
	} else if err := f.info.Fsync(); err != nil {
		f.logger.Warn("engine: info fsync failed", "path", f.path, "err", err)
	}
	f.mu.Unlock()

	f.syncMu.Lock()
	carry := f.writesDuringSync
	f.writesDuringSync = nil
	f.inSync = false
	for _, idx := range carry {
		f.cfi.SetWriteCalled(idx)
	}
	again := len(carry) >= f.cfg.SyncThreshold
	if again {
		f.inSync = true
	} else {
		f.nonFlushedCnt = len(carry)
	}
	f.syncMu.Unlock()
	if again {
		f.sched.Schedule(&diskSyncJob{f: f})
	}
}
