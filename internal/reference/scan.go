package reference

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/mirahollis/classphoto-organizer/internal/imgext"
)

// scanPersons walks root one level deep: every subdirectory containing at
// least one supported, non-hidden, non-zero-byte image file is a Person.
// Files directly under root, and files nested more than one level deep,
// are ignored.
func scanPersons(root string, maxRefsPerPerson int) ([]Person, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var persons []Person
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if imgext.IsHidden(name) {
			continue
		}
		personDir := filepath.Join(root, name)
		images, err := scanPersonImages(root, personDir, maxRefsPerPerson)
		if err != nil {
			return nil, err
		}
		if len(images) == 0 {
			continue
		}
		persons = append(persons, Person{Name: name, Images: images})
	}

	sort.Slice(persons, func(i, j int) bool { return persons[i].Name < persons[j].Name })
	return persons, nil
}

// scanPersonImages lists supported image files directly under personDir,
// returning up to maxRefsPerPerson, newest mtime first, ties broken by
// relative path.
func scanPersonImages(root, personDir string, maxRefsPerPerson int) ([]Image, error) {
	entries, err := os.ReadDir(personDir)
	if err != nil {
		return nil, err
	}

	var images []Image
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if imgext.IsHidden(name) || !imgext.IsSupported(name) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Size() == 0 {
			continue
		}
		relPath, err := filepath.Rel(root, filepath.Join(personDir, name))
		if err != nil {
			continue
		}
		images = append(images, Image{
			RelPath: relPath,
			Size:    info.Size(),
			MTime:   info.ModTime().Unix(),
		})
	}

	sort.Slice(images, func(i, j int) bool {
		a, b := images[i], images[j]
		if a.MTime != b.MTime {
			return a.MTime > b.MTime
		}
		return a.RelPath < b.RelPath
	})

	if maxRefsPerPerson > 0 && len(images) > maxRefsPerPerson {
		images = images[:maxRefsPerPerson]
	}
	return images, nil
}
