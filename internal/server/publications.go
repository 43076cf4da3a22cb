// publications.go - Publication create (multipart with attachments) and list.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// maxFieldBytes caps a single non-file form value.
const maxFieldBytes = 64 << 10

type createPublicationResponse struct {
	Message          string `json:"message"`
	AttachmentsSaved int    `json:"attachmentsSaved"`
	AttachmentsTotal int    `json:"attachmentsTotal"`
}

// publicationForm is the parsed, typed view of the multipart text fields.
type publicationForm struct {
	AuthorID       int64  `json:"authorId" validate:"gt=0"`
	Title          string `json:"title" validate:"required"`
	Description    string `json:"description"`
	Priority       string `json:"priority"`
	RegionID       *int64 `json:"regionId" validate:"omitempty,gt=0"`
	MunicipalityID *int64 `json:"municipalityId" validate:"omitempty,gt=0"`
	NeighborhoodID *int64 `json:"neighborhoodId" validate:"omitempty,gt=0"`
}

func isFilesField(name string) bool {
	return name == "files" || name == "files[]"
}

// parsePublicationForm converts raw form values. Numeric parse failures are
// reported per field alongside the struct validation failures.
func parsePublicationForm(values map[string]string) (NewPublication, map[string]string, error) {
	fields := map[string]string{}
	form := publicationForm{
		Title:       strings.TrimSpace(values["title"]),
		Description: values["description"],
		Priority:    values["priority"],
	}

	if raw := strings.TrimSpace(values["authorId"]); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			fields["authorId"] = "must be a positive integer"
		}
		form.AuthorID = id
	}

	optional := []struct {
		name string
		dst  **int64
	}{
		{"regionId", &form.RegionID},
		{"municipalityId", &form.MunicipalityID},
		{"neighborhoodId", &form.NeighborhoodID},
	}
	for _, o := range optional {
		raw := strings.TrimSpace(values[o.name])
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			fields[o.name] = "must be a positive integer"
			continue
		}
		*o.dst = &id
	}

	verrs, err := validate.Struct(&form)
	if err != nil {
		return NewPublication{}, nil, err
	}
	for k, v := range verrs {
		if _, seen := fields[k]; !seen {
			fields[k] = v
		}
	}
	if len(fields) > 0 {
		return NewPublication{}, fields, nil
	}

	return NewPublication{
		AuthorID:       form.AuthorID,
		Title:          form.Title,
		Description:    form.Description,
		Priority:       form.Priority,
		RegionID:       form.RegionID,
		MunicipalityID: form.MunicipalityID,
		NeighborhoodID: form.NeighborhoodID,
	}, nil, nil
}

// createPublicationHandler handles POST /publications.
//
// The multipart body is streamed: each file part goes straight to the file
// store as it arrives and text fields are collected on the way. Validation
// happens once the body is consumed; if it fails, or the publication insert
// fails, every file already stored for this request is removed. Attachment
// rows are inserted one by one after the publication row and their outcome
// is reported as counts.
func (cfg Config) createPublicationHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)

	if cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		writeValidation(w, r, map[string]string{"body": "must be multipart/form-data"})
		return
	}

	var stored []StoredFile
	cleanup := func() {
		// The request context may already be gone.
		rmCtx := context.WithoutCancel(ctx)
		for _, sf := range stored {
			if err := cfg.Files.Remove(rmCtx, sf.Path); err != nil {
				logger.Warn().Err(err).Str("path", sf.Path).Msg("remove orphaned upload")
			}
		}
	}
	fail := func(err error) {
		cleanup()
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, r, http.StatusRequestEntityTooLarge, errorResponse{Error: "Archivos demasiado grandes", Code: codeTooLarge}, err)
			return
		}
		writeError(w, r, http.StatusBadRequest, errorResponse{Error: "Formulario inválido", Code: codeValidation}, err)
	}

	values := map[string]string{}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			fail(err)
			return
		}

		name := part.FormName()
		switch {
		case isFilesField(name):
			if part.FileName() == "" {
				// An empty <input type="file"> still sends a part.
				_ = part.Close()
				continue
			}
			sf, err := cfg.Files.Save(ctx, part.FileName(), part.Header.Get("Content-Type"), part)
			_ = part.Close()
			if err != nil {
				var mbe *http.MaxBytesError
				if errors.As(err, &mbe) {
					fail(err)
					return
				}
				cleanup()
				writeInternal(w, r, "Error al guardar archivo", err)
				return
			}
			cfg.Metrics.RecordUpload(sf.Size)
			stored = append(stored, sf)

		case part.FileName() != "":
			// File under an unknown field name; drained and ignored.
			_, err := io.Copy(io.Discard, part)
			_ = part.Close()
			if err != nil {
				fail(err)
				return
			}

		default:
			raw, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
			_ = part.Close()
			if err != nil {
				fail(err)
				return
			}
			if len(raw) > maxFieldBytes {
				cleanup()
				writeValidation(w, r, map[string]string{name: "is too long"})
				return
			}
			if _, seen := values[name]; !seen {
				values[name] = string(raw)
			}
		}
	}

	pub, fields, err := parsePublicationForm(values)
	if err != nil {
		cleanup()
		writeInternal(w, r, "Error interno", err)
		return
	}
	if fields != nil {
		cleanup()
		writeValidation(w, r, fields)
		return
	}

	pubID, err := cfg.Store.CreatePublication(ctx, pub)
	if err != nil {
		cleanup()
		writeInternal(w, r, "Error al guardar publicación", err)
		return
	}

	saved := 0
	if len(stored) > 0 {
		paths := make([]string, len(stored))
		for i, sf := range stored {
			paths[i] = sf.Path
		}
		saved, err = cfg.Store.AddAttachments(ctx, pubID, paths)
		if err != nil {
			logger.Error().Err(err).
				Int64("publication_id", pubID).
				Int("attachments_saved", saved).
				Int("attachments_total", len(paths)).
				Msg("attachment insert failed")
		}
	}
	cfg.Metrics.RecordPublication(len(stored) - saved)

	logger.Info().Int64("publication_id", pubID).Int("attachments", saved).Msg("publication created")
	writeJSON(w, http.StatusOK, createPublicationResponse{
		Message:          "Publicación creada correctamente",
		AttachmentsSaved: saved,
		AttachmentsTotal: len(stored),
	})
}

// listPublicationsHandler handles GET /publications, newest first.
func (cfg Config) listPublicationsHandler(w http.ResponseWriter, r *http.Request) {
	pubs, err := cfg.Store.ListPublications(r.Context())
	if err != nil {
		writeInternal(w, r, "Error al obtener publicaciones", err)
		return
	}
	if pubs == nil {
		pubs = []PublicationSummary{}
	}
	writeJSON(w, http.StatusOK, pubs)
}
