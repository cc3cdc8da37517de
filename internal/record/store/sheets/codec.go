package sheets

import (
	"maps"
	"slices"

	"kycvault/internal/record/models"
)

// columnOf maps a field name to its header. Extension fields use their name.
func columnOf(name string) string {
	if f, ok := models.FieldByName(name); ok {
		return f.Column
	}
	return name
}

// nameOf maps a header back to a field name.
func nameOf(header string) string {
	if f, ok := models.FieldByColumn(header); ok {
		return f.Name
	}
	return header
}

// encodeRow lays e out under headers. missing lists populated values that
// have no header. Extensions are written both to their own column and to
// Extra_Data.
func encodeRow(headers []string, e *models.Entity) ([]string, []string) {
	values := make(map[string]string)
	for _, f := range models.Fields() {
		if v := f.Get(e); v != "" {
			values[f.Column] = v
		}
	}
	for k, v := range e.Extensions {
		if v != "" {
			values[k] = v
		}
	}

	row := make([]string, len(headers))
	for i, h := range headers {
		if v, ok := values[h]; ok {
			row[i] = v
			delete(values, h)
		}
	}
	if len(values) == 0 {
		return row, nil
	}
	return row, slices.Sorted(maps.Keys(values))
}

// decodeRow reads one row. An extension column that is not empty wins over
// the same key in Extra_Data.
func decodeRow(headers, row []string) (*models.Entity, error) {
	e := &models.Entity{}
	var ext map[string]string
	for i, h := range headers {
		v := cell(row, i)
		if f, ok := models.FieldByColumn(h); ok {
			if err := f.Set(e, v); err != nil {
				return nil, err
			}
			continue
		}
		if h == "" || v == "" {
			continue
		}
		if ext == nil {
			ext = make(map[string]string)
		}
		ext[h] = v
	}
	if len(ext) > 0 {
		if e.Extensions == nil {
			e.Extensions = make(map[string]string, len(ext))
		}
		maps.Copy(e.Extensions, ext)
	}
	return e, nil
}
