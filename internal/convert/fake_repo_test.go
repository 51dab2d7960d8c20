package convert

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"sort"
	"testing"

	"github.com/timmy/webpmigrate/internal/domain"
	"github.com/timmy/webpmigrate/internal/logger"
)

// memRepo is an in-memory Repository. Objects are copied on the way out so
// the job only sees committed state, and enumerated fields carry no bytes,
// matching the database-backed repository.
type memRepo struct {
	sites    map[string]bool
	objects  map[uint]*domain.ContentObject
	commits  [][]domain.Mutation
	compacts int

	failCommitAt int // 1-based commit call that fails; 0 never
	commitCalls  int
	compactErr   error
}

func newMemRepo() *memRepo {
	return &memRepo{
		sites:   map[string]bool{"Plone": true},
		objects: make(map[uint]*domain.ContentObject),
	}
}

func (r *memRepo) add(portalType, path string, fields ...domain.ImageField) *domain.ContentObject {
	id := uint(len(r.objects) + 1)
	for i := range fields {
		fields[i].ID = id*100 + uint(i)
		fields[i].ObjectID = id
		fields[i].Size = int64(len(fields[i].Data))
	}
	obj := &domain.ContentObject{ID: id, SiteID: "Plone", PortalType: portalType, Path: path, Fields: fields}
	r.objects[id] = obj
	return obj
}

func (r *memRepo) matches(obj *domain.ContentObject, q domain.FieldQuery) bool {
	if obj.SiteID != q.SiteID {
		return false
	}
	for _, t := range q.ContentTypes {
		if t == obj.PortalType {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (r *memRepo) SiteExists(_ context.Context, siteID string) (bool, error) {
	return r.sites[siteID], nil
}

func (r *memRepo) CountImageFields(_ context.Context, q domain.FieldQuery) (int, error) {
	n := 0
	for _, obj := range r.objects {
		if !r.matches(obj, q) {
			continue
		}
		for _, f := range obj.Fields {
			if contains(q.FieldNames, f.Name) {
				n++
			}
		}
	}
	return n, nil
}

func (r *memRepo) EachObject(ctx context.Context, q domain.FieldQuery, _ int, fn func(*domain.ContentObject) error) error {
	ids := make([]int, 0, len(r.objects))
	for id := range r.objects {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		obj := r.objects[uint(id)]
		if !r.matches(obj, q) {
			continue
		}
		cp := *obj
		cp.Fields = nil
		for _, f := range obj.Fields {
			if contains(q.FieldNames, f.Name) {
				f.Data = nil
				cp.Fields = append(cp.Fields, f)
			}
		}
		if len(cp.Fields) == 0 {
			continue
		}
		if err := fn(&cp); err != nil {
			return err
		}
	}
	return nil
}

func (r *memRepo) ReadField(_ context.Context, field *domain.ImageField) ([]byte, error) {
	obj := r.objects[field.ObjectID]
	if obj == nil {
		return nil, errors.New("object gone")
	}
	return obj.Field(field.Name).Data, nil
}

func (r *memRepo) CommitBatch(_ context.Context, mutations []domain.Mutation) error {
	r.commitCalls++
	if r.failCommitAt > 0 && r.commitCalls == r.failCommitAt {
		return errors.New("conflict")
	}
	for _, m := range mutations {
		f := r.objects[m.ObjectID].Field(m.FieldName)
		f.Data = m.Data
		f.Filename = m.Filename
		f.ContentType = m.ContentType
		f.Size = int64(len(m.Data))
	}
	r.commits = append(r.commits, append([]domain.Mutation(nil), mutations...))
	return nil
}

func (r *memRepo) Compact(context.Context) (domain.CompactStats, error) {
	if r.compactErr != nil {
		return domain.CompactStats{}, r.compactErr
	}
	r.compacts++
	return domain.CompactStats{Vacuumed: true}, nil
}

// snapshot returns every field's content type and bytes keyed by field ID.
func (r *memRepo) snapshot() map[uint]string {
	out := make(map[uint]string)
	for _, obj := range r.objects {
		for _, f := range obj.Fields {
			out[f.ID] = f.ContentType + ":" + string(f.Data)
		}
	}
	return out
}

func testPNG(t testing.TB, alpha bool) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			a := uint8(255)
			if alpha && x == 0 {
				a = 0
			}
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 60), G: uint8(y * 60), B: 90, A: a})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func quietLogger() *logger.Logger {
	return bufferLogger(io.Discard)
}

func bufferLogger(w io.Writer) *logger.Logger {
	cfg := logger.DefaultConfig()
	cfg.Output = w
	cfg.File = ""
	cfg.Level = "debug"
	return logger.New(cfg)
}
