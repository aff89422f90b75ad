package extract

// Partial is the set of raw fields one extraction layer could read from a
// page. Nil pointers and empty collections mean the layer found nothing.
type Partial struct {
	Name           *string
	SKU            *string
	PriceText      *string
	Currency       *string
	Category       *string
	Description    *string
	Brand          *string
	UnitText       *string
	ImageURLs      []string
	Specifications map[string]string
}

// Empty reports whether neither a name nor a price was found.
func (p Partial) Empty() bool {
	return p.Name == nil && p.PriceText == nil
}

// Fold merges layers in priority order. For every field the first layer
// holding a value wins; later layers only fill gaps.
func Fold(layers ...Partial) Partial {
	var out Partial
	for _, l := range layers {
		out.Name = firstString(out.Name, l.Name)
		out.SKU = firstString(out.SKU, l.SKU)
		out.PriceText = firstString(out.PriceText, l.PriceText)
		out.Currency = firstString(out.Currency, l.Currency)
		out.Category = firstString(out.Category, l.Category)
		out.Description = firstString(out.Description, l.Description)
		out.Brand = firstString(out.Brand, l.Brand)
		out.UnitText = firstString(out.UnitText, l.UnitText)
		if len(out.ImageURLs) == 0 && len(l.ImageURLs) > 0 {
			out.ImageURLs = append([]string(nil), l.ImageURLs...)
		}
		if len(out.Specifications) == 0 && len(l.Specifications) > 0 {
			out.Specifications = make(map[string]string, len(l.Specifications))
			for k, v := range l.Specifications {
				out.Specifications[k] = v
			}
		}
	}
	return out
}

func firstString(current, candidate *string) *string {
	if current != nil {
		return current
	}
	return candidate
}

// str returns a pointer to the trimmed value, or nil when it is blank.
func str(v string) *string {
	v = collapseSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
