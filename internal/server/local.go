package server

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/prn-tf/cipherproxy/internal/cipher"
)

const localEncryptPrefix = "/local/encrypt/"

// localFilePath resolves name (the path segment after /local/encrypt/) to a
// file inside the configured local-encryption directory, rejecting any name
// that would escape it via ".." segments.
func (s *Server) localFilePath(name string) (string, bool) {
	if name == "" || strings.Contains(name, "..") {
		return "", false
	}
	return filepath.Join(s.cfg.LocalEncryptionDirectory, filepath.FromSlash(name)), true
}

// handleLocalEncryptToFile implements PUT /local/encrypt/<name>: encrypts
// the request body and writes the ciphertext to disk, replying `{}` on
// success.
func (s *Server) handleLocalEncryptToFile(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, localEncryptPrefix)
	path, ok := s.localFilePath(name)
	if !ok {
		writeJSONStatus(w, http.StatusNotFound)
		return
	}

	keyID, key, ok := s.keyring.GetLast()
	if !ok {
		s.logger.Error().Msg("no key available for encryption")
		writeJSONStatus(w, http.StatusInternalServerError)
		return
	}

	encoder, err := cipher.NewEncoder(r.Body, key[:], keyID, s.cfg.ChunkSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to initialize encoder")
		writeJSONStatus(w, http.StatusInternalServerError)
		return
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("failed to open local encryption file")
		writeJSONStatus(w, http.StatusInternalServerError)
		return
	}
	defer f.Close()

	if _, err := io.Copy(f, encoder); err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("failed to write encrypted local file")
		writeJSONStatus(w, http.StatusInternalServerError)
		return
	}
	if err := f.Sync(); err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("failed to sync local encryption file")
		writeJSONStatus(w, http.StatusInternalServerError)
		return
	}

	writeJSONStatus(w, http.StatusOK)
}

// handleLocalFetchFile implements GET /local/encrypt/<name>: streams the
// stored ciphertext back to the client and deletes it, guaranteeing
// exactly-once delivery of a locally encrypted file.
func (s *Server) handleLocalFetchFile(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, localEncryptPrefix)
	path, ok := s.localFilePath(name)
	if !ok {
		writeJSONStatus(w, http.StatusNotFound)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		writeJSONStatus(w, http.StatusNotFound)
		return
	}
	defer func() {
		f.Close()
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Error().Err(err).Str("path", path).Msg("failed to erase local encryption file after serving")
		}
	}()

	if _, err := io.Copy(w, f); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("error streaming local encryption file to client")
	}
}

func writeJSONStatus(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte("{}"))
}
