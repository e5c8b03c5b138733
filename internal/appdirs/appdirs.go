package appdirs

import (
	"os"
	"path/filepath"
)

const (
	appDirName = "glossa"
	// DataDirVar overrides the data directory.
	DataDirVar = "GLOSSA_DATA_DIR"
)

func DataDir() (string, error) {
	if override := os.Getenv(DataDirVar); override != "" {
		return override, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appDirName), nil
}

// ChunksDir holds one checkpoint directory per input file.
func ChunksDir(dataDir string) string {
	return filepath.Join(dataDir, "chunks")
}

func LogsDir(dataDir string) string {
	return filepath.Join(dataDir, "logs")
}

// SecretsDir holds the encrypted API keys and their master key.
func SecretsDir(dataDir string) string {
	return filepath.Join(dataDir, "secrets")
}

// JournalPath is the attempt journal shared by every manuscript. It lives
// outside the checkpoint directories, which are removed after a run.
func JournalPath(dataDir string) string {
	return filepath.Join(dataDir, "attempts.db")
}
