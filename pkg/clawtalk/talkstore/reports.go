package talkstore

import "path/filepath"

func reportsPath(root, talkID string) string {
	return filepath.Join(talkDir(root, talkID), reportsFileName)
}

// AppendReport appends a JobReport line, stamping RunAt if absent.
func (s *Store) AppendReport(talkID string, r JobReport) error {
	if r.RunAt == 0 {
		r.RunAt = nowMillis()
	}
	lock := s.files.forTalk(talkID)
	lock.Lock()
	defer lock.Unlock()
	return appendJSONL(reportsPath(s.dataDir, talkID), r)
}

// GetReports returns all reports for a Talk.
func (s *Store) GetReports(talkID string) []JobReport {
	return readJSONLAll[JobReport](s.logger, reportsPath(s.dataDir, talkID))
}

// GetRecentReports filters reports by an optional since-timestamp and/or jobId.
func (s *Store) GetRecentReports(talkID string, since int64, jobID string) []JobReport {
	all := s.GetReports(talkID)
	out := make([]JobReport, 0, len(all))
	for _, r := range all {
		if since > 0 && r.RunAt < since {
			continue
		}
		if jobID != "" && r.JobID != jobID {
			continue
		}
		out = append(out, r)
	}
	return out
}
