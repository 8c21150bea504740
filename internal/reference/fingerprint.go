package reference

import (
	"crypto/sha256"
	"fmt"
	"sort"
)

// fingerprintTuple is one row that feeds the ReferenceFingerprint digest.
type fingerprintTuple struct {
	Person  string
	RelPath string
	Size    int64
	MTime   int64
}

// computeFingerprint hashes the sorted (person, relative_path, size, mtime)
// tuples plus the backend descriptor. Any change to the
// reference set — an added, removed, or modified reference image — produces
// a new fingerprint.
func computeFingerprint(persons []Person, d Descriptor) string {
	tuples := make([]fingerprintTuple, 0)
	for _, p := range persons {
		for _, img := range p.Images {
			tuples = append(tuples, fingerprintTuple{
				Person:  p.Name,
				RelPath: img.RelPath,
				Size:    img.Size,
				MTime:   img.MTime,
			})
		}
	}
	sort.Slice(tuples, func(i, j int) bool {
		if tuples[i].Person != tuples[j].Person {
			return tuples[i].Person < tuples[j].Person
		}
		return tuples[i].RelPath < tuples[j].RelPath
	})

	h := sha256.New()
	fmt.Fprintf(h, "engine=%s;model=%s;", d.Engine, d.Model)
	for _, t := range tuples {
		fmt.Fprintf(h, "%s|%s|%d|%d;", t.Person, t.RelPath, t.Size, t.MTime)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
