package talkstore

import "path/filepath"

func observationsPath(root, talkID string) string {
	return filepath.Join(talkDir(root, talkID), affinityDirName, observationsFile)
}

func snapshotPath(root, talkID string) string {
	return filepath.Join(talkDir(root, talkID), affinityDirName, snapshotFile)
}

// AppendObservation appends one AffinityObservation line for a Talk.
func (s *Store) AppendObservation(talkID string, o AffinityObservation) error {
	if o.Timestamp == 0 {
		o.Timestamp = nowMillis()
	}
	lock := s.files.forTalk(talkID)
	lock.Lock()
	defer lock.Unlock()
	return appendJSONL(observationsPath(s.dataDir, talkID), o)
}

// GetObservations returns all observations recorded for a Talk.
func (s *Store) GetObservations(talkID string) []AffinityObservation {
	return readJSONLAll[AffinityObservation](s.logger, observationsPath(s.dataDir, talkID))
}

// WriteAffinitySnapshot rewrites the debug-only snapshot.json for a Talk.
func (s *Store) WriteAffinitySnapshot(talkID string, data []byte) error {
	lock := s.files.forTalk(talkID)
	lock.Lock()
	defer lock.Unlock()
	return atomicWriteFile(snapshotPath(s.dataDir, talkID), data, 0o644)
}
