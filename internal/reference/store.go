package reference

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/mirahollis/classphoto-organizer/internal/faceengine"
	"github.com/mirahollis/classphoto-organizer/internal/imageio"
)

// Store is the Reference Store (C3). A zero-value Store is not usable;
// construct one with New.
type Store struct {
	Root             string
	LogRoot          string
	Descriptor       Descriptor
	MaxRefsPerPerson int
	Engine           *faceengine.Client

	// Mirror and Roster are optional domain-stack accelerators. Either may
	// be nil.
	Mirror Mirror
	Roster RosterLookup

	Logger *slog.Logger
}

// New builds a Store with sane fallbacks for optional fields.
func New(root, logRoot string, d Descriptor, maxRefsPerPerson int, engine *faceengine.Client) *Store {
	return &Store{
		Root:             root,
		LogRoot:          logRoot,
		Descriptor:       d,
		MaxRefsPerPerson: maxRefsPerPerson,
		Engine:           engine,
		Logger:           slog.Default(),
	}
}

// Load runs the reference-loading algorithm end to end: scan, reuse or
// compute embeddings, persist the index, compute the fingerprint.
func (s *Store) Load(ctx context.Context) (*Result, error) {
	log := s.logger()

	persons, err := scanPersons(s.Root, s.MaxRefsPerPerson)
	if err != nil {
		return nil, err
	}

	var (
		knownNames      []string
		knownEmbeddings [][]float32
		records         []indexRecord
	)
	expectedDim := 0 // set from the first successfully encoded embedding

	for _, p := range persons {
		for _, img := range p.Images {
			emb, status, err := s.resolveEmbedding(ctx, p.Name, img)
			if err != nil {
				log.Warn("reference: dropping reference image", "person", p.Name, "path", img.RelPath, "err", err)
				status = statusDropped
			}

			if status == statusOK {
				if dimensionMismatch(emb, expectedDim) && expectedDim > 0 {
					log.Warn("reference: embedding dimensionality mismatch, discarding backend cache subtree",
						"person", p.Name, "path", img.RelPath, "got", len(emb), "want", expectedDim)
					if derr := discardCacheSubtree(s.LogRoot, s.Descriptor); derr != nil {
						return nil, derr
					}
					return s.Load(ctx) // recompute from a clean subtree
				}
				if expectedDim == 0 {
					expectedDim = len(emb)
				}
				knownNames = append(knownNames, p.Name)
				knownEmbeddings = append(knownEmbeddings, emb)
				if s.Mirror != nil {
					if merr := s.Mirror.Upsert(s.Descriptor.Engine, s.Descriptor.Model, p.Name, img.RelPath, emb); merr != nil {
						log.Warn("reference: mirror upsert failed, file cache remains authoritative", "err", merr)
					}
				}
			}

			records = append(records, indexRecord{
				Person:  p.Name,
				RelPath: img.RelPath,
				Size:    img.Size,
				MTime:   img.MTime,
				Status:  status,
			})
		}
	}

	s.annotateDisplayNames(persons, records, log)

	newIdx := &indexFile{Descriptor: s.Descriptor, Records: records}
	if err := saveIndexAtomic(s.LogRoot, newIdx); err != nil {
		return nil, err
	}

	return &Result{
		KnownNames:      knownNames,
		KnownEmbeddings: knownEmbeddings,
		Fingerprint:     computeFingerprint(persons, s.Descriptor),
		Persons:         persons,
	}, nil
}

// resolveEmbedding reuses a cached embedding when the image is unchanged,
// otherwise decodes and encodes it, persisting the result atomically.
func (s *Store) resolveEmbedding(ctx context.Context, person string, img Image) ([]float32, recordStatus, error) {
	dir, err := cacheDir(s.LogRoot, s.Descriptor, person)
	if err != nil {
		return nil, statusDropped, err
	}
	path := filepath.Join(dir, fileID(img))

	if emb, err := loadEmbedding(path); err == nil {
		return emb, statusOK, nil
	}

	absPath := filepath.Join(s.Root, img.RelPath)
	buf, err := imageio.Load(absPath)
	if err != nil {
		return nil, statusDropped, err
	}

	jpeg, err := imageio.EncodeJPEG(&imageio.PixelBuffer{Width: buf.Width, Height: buf.Height, Pix: buf.Pix}, 90)
	if err != nil {
		return nil, statusDropped, err
	}

	faces, err := s.Engine.Detect(ctx, jpeg)
	if err != nil {
		return nil, statusDropped, err
	}
	emb := faces[0].Embedding

	if err := saveEmbeddingAtomic(dir, path, emb); err != nil {
		return nil, statusDropped, err
	}
	return emb, statusOK, nil
}

func (s *Store) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
