package web

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/tidyimport/internal/core"
	"github.com/JonMunkholm/tidyimport/internal/export"
	"github.com/JonMunkholm/tidyimport/internal/logging"
	"github.com/JonMunkholm/tidyimport/internal/spec"
)

// maxSpecSize bounds an uploaded spec document.
const maxSpecSize = 1 << 20

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status   string                   `json:"status"`
	Specs    int                      `json:"specs"`
	Imports  core.ImportLimiterStatus `json:"imports"`
	Database bool                     `json:"database"`
}

// SpecListResponse is the body of GET /api/specs.
type SpecListResponse struct {
	Specs  []core.SpecInfo `json:"specs"`
	Groups []string        `json:"groups"`
}

// SpecResponse is the body of GET /api/specs/{specKey}.
type SpecResponse struct {
	Info core.SpecInfo `json:"info"`
	Spec *spec.Spec    `json:"spec"`
}

// ImportResponse is the JSON body of a finished import.
type ImportResponse struct {
	ImportID    string          `json:"import_id"`
	Spec        string          `json:"spec,omitempty"`
	File        string          `json:"file"`
	Records     []core.Record   `json:"records"`
	Errors      []core.RowError `json:"errors"`
	RecordCount int             `json:"record_count"`
	ErrorCount  int             `json:"error_count"`
	Fingerprint string          `json:"fingerprint"`
	Written     *int64          `json:"written,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Specs:    core.SpecCount(),
		Imports:  s.limiter.Status(),
		Database: s.store != nil,
	})
}

// handleListSpecs lists registered specs, optionally filtered by ?group=.
func (s *Server) handleListSpecs(w http.ResponseWriter, r *http.Request) {
	var defs []core.SpecDefinition
	if r.URL.Query().Has("group") {
		defs = core.ByGroup(r.URL.Query().Get("group"))
	} else {
		defs = core.All()
	}

	resp := SpecListResponse{
		Specs:  make([]core.SpecInfo, 0, len(defs)),
		Groups: core.Groups(),
	}
	for _, def := range defs {
		resp.Specs = append(resp.Specs, def.Info)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSpec(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "specKey")
	def, ok := core.Get(key)
	if !ok {
		respondError(w, r, fmt.Errorf("%w: %s", errSpecMissing, key))
		return
	}
	writeJSON(w, http.StatusOK, SpecResponse{Info: def.Info, Spec: def.Spec})
}

// handleImportRegistered runs an upload through a registered spec.
func (s *Server) handleImportRegistered(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "specKey")
	def, ok := core.Get(key)
	if !ok {
		respondError(w, r, fmt.Errorf("%w: %s", errSpecMissing, key))
		return
	}

	if err := s.parseUpload(w, r); err != nil {
		respondError(w, r, err)
		return
	}
	s.runImport(w, r, key, def.Engine)
}

// handleImportAdHoc runs an upload through a spec sent with the request,
// either as the "spec" form value or as a "spec" file part.
func (s *Server) handleImportAdHoc(w http.ResponseWriter, r *http.Request) {
	if err := s.parseUpload(w, r); err != nil {
		respondError(w, r, err)
		return
	}

	doc, err := specDocument(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	sp, err := spec.Parse(doc)
	if err != nil {
		respondError(w, r, err)
		return
	}
	engine, err := core.NewEngine(sp)
	if err != nil {
		respondError(w, r, err)
		return
	}
	s.runImport(w, r, "", engine)
}

// parseUpload limits the request body and parses the multipart form.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize+maxSpecSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return fmt.Errorf("%w: %v", errNoFile, err)
	}
	return nil
}

func specDocument(r *http.Request) ([]byte, error) {
	if v := r.FormValue("spec"); v != "" {
		return []byte(v), nil
	}

	f, _, err := r.FormFile("spec")
	if err != nil {
		return nil, errNoSpec
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxSpecSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read spec: %w", err)
	}
	return data, nil
}

// runImport loads the "file" part, runs engine and writes the result in the
// format requested by ?format= (json by default).
func (s *Server) runImport(w http.ResponseWriter, r *http.Request, key string, engine *core.Engine) {
	format, err := export.ParseFormat(cmp.Or(r.URL.Query().Get("format"), string(export.FormatJSON)))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if format == export.FormatDB && s.store == nil {
		respondError(w, r, errNoDatabase)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, errNoFile)
		return
	}
	defer file.Close()

	if err := s.limiter.Acquire(r.Context()); err != nil {
		respondError(w, r, err)
		return
	}
	defer s.limiter.Release()

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Import.Timeout)
	defer cancel()

	importID := uuid.New()
	logger := logging.WithFields(ctx,
		"import_id", importID,
		"spec", key,
		"file", header.Filename,
	)
	ctx = logging.NewContext(ctx, logger)
	start := time.Now()

	result, err := s.importFile(ctx, file, header, engine)
	if err != nil {
		respondError(w, r, err)
		return
	}

	fingerprint, err := result.Fingerprint()
	if err != nil {
		respondError(w, r, err)
		return
	}

	resp := ImportResponse{
		ImportID:    importID.String(),
		Spec:        key,
		File:        header.Filename,
		Records:     result.Records(),
		Errors:      result.Errors(),
		RecordCount: result.RecordCount(),
		ErrorCount:  result.ErrorCount(),
		Fingerprint: fingerprint,
	}
	if resp.Records == nil {
		resp.Records = []core.Record{}
	}
	if resp.Errors == nil {
		resp.Errors = []core.RowError{}
	}

	if format == export.FormatDB {
		opts := export.DBOptions{
			Table:          s.cfg.Database.Table,
			ImportIDColumn: s.cfg.Database.ImportIDColumn,
			BatchSize:      s.cfg.Database.BatchSize,
		}
		if opts.ImportIDColumn != "" {
			opts.ImportID = importID
		}
		n, err := export.WriteDB(ctx, s.store, resp.Records, opts)
		if err != nil {
			respondError(w, r, err)
			return
		}
		resp.Written = &n
	}

	logger.Info("import completed",
		"records", resp.RecordCount,
		"errors", resp.ErrorCount,
		"format", format,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if format == export.FormatCSV {
		writeCSVResult(w, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) importFile(ctx context.Context, file multipart.File, header *multipart.FileHeader, engine *core.Engine) (*core.ImportResult, error) {
	table, err := s.loader.LoadReader(ctx, file, header.Filename, engine.Spec().Input)
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx, table)
}

// writeCSVResult streams the records as CSV. Counts and the fingerprint
// travel in headers since the body has no room for row errors.
func writeCSVResult(w http.ResponseWriter, resp ImportResponse) {
	name := strings.TrimSuffix(filepath.Base(resp.File), filepath.Ext(resp.File)) + ".csv"

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("X-Import-ID", resp.ImportID)
	w.Header().Set("X-Record-Count", strconv.Itoa(resp.RecordCount))
	w.Header().Set("X-Error-Count", strconv.Itoa(resp.ErrorCount))
	w.Header().Set("X-Fingerprint", resp.Fingerprint)
	w.WriteHeader(http.StatusOK)

	if err := export.WriteCSV(w, resp.Records); err != nil {
		slog.Error("csv write error", "import_id", resp.ImportID, "error", err)
	}
}
