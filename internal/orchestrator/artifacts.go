package orchestrator

import (
	"context"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"uniassist/internal/docstore"
)

const maxArtifacts = 5

var previewableMimes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/gif":       true,
	"image/webp":      true,
}

var previewableExts = map[string]bool{
	".pdf":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// Previewable reports whether an artifact gets an inline preview URL.
// The stored MIME type decides; the file extension covers artifacts
// stored without one.
func Previewable(mimeType, fileName string) bool {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if mt != "" {
		return previewableMimes[mt]
	}
	return previewableExts[strings.ToLower(path.Ext(fileName))]
}

// ParseArtifactID splits an artifact reference id back into its document
// id and artifact index.
func ParseArtifactID(id string) (documentID string, index int, ok bool) {
	i := strings.LastIndex(id, "_artifact_")
	if i <= 0 {
		return "", 0, false
	}
	index, err := strconv.Atoi(id[i+len("_artifact_"):])
	if err != nil || index < 0 {
		return "", 0, false
	}
	return id[:i], index, true
}

// collectArtifacts presigns the files riding along with the answer. A
// wants-fillable request drops artifacts the student cannot fill in.
// Presign failures skip the artifact rather than failing the response.
func (o *Orchestrator) collectArtifacts(ctx context.Context, p plan, wantsFillable bool) []ArtifactReference {
	if o.objects == nil {
		return nil
	}
	docs := p.fileDocs
	if p.formDoc != nil {
		docs = append([]*docstore.Document{p.formDoc}, docs...)
	}

	var out []ArtifactReference
	seen := make(map[string]bool)
	for _, doc := range docs {
		if doc == nil || seen[doc.ID] {
			continue
		}
		seen[doc.ID] = true
		for i, a := range doc.Artifacts {
			if len(out) >= maxArtifacts {
				return out
			}
			if wantsFillable && !a.IsFillable {
				continue
			}
			ref, err := o.artifactRef(ctx, doc.ID, i, a)
			if err != nil {
				o.log.Warn("failed to presign artifact",
					zap.String("document_id", doc.ID),
					zap.Int("index", i),
					zap.Error(err))
				continue
			}
			out = append(out, ref)
		}
	}
	return out
}

func (o *Orchestrator) artifactRef(ctx context.Context, documentID string, index int, a docstore.Artifact) (ArtifactReference, error) {
	download, err := o.objects.Presign(ctx, a.StorageKey, o.cfg.PresignTTL)
	if err != nil {
		return ArtifactReference{}, err
	}
	ref := ArtifactReference{
		ArtifactID:   ArtifactID(documentID, index),
		DocumentID:   documentID,
		FileName:     a.FileName,
		ArtifactType: a.ArtifactType,
		DownloadURL:  download,
		SizeBytes:    a.SizeBytes,
		SizeDisplay:  SizeDisplay(a.SizeBytes),
		IsFillable:   a.IsFillable,
		FillFields:   a.FillFields,
	}
	if Previewable(a.MimeType, a.FileName) {
		key := a.PreviewKey
		if key == "" {
			key = a.StorageKey
		}
		if preview, err := o.objects.Presign(ctx, key, o.cfg.PresignTTL); err == nil {
			ref.PreviewURL = preview
		}
	}
	return ref, nil
}
