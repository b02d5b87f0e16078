package tick

// Filter decides which entities get forwarded. A non-empty include list
// wins outright; otherwise the exclude list applies; otherwise
// everything passes.
type Filter struct {
	include map[string]struct{}
	exclude map[string]struct{}
}

func NewFilter(include, exclude []string) *Filter {
	f := &Filter{
		include: make(map[string]struct{}, len(include)),
		exclude: make(map[string]struct{}, len(exclude)),
	}
	for _, id := range include {
		f.include[id] = struct{}{}
	}
	for _, id := range exclude {
		f.exclude[id] = struct{}{}
	}
	return f
}

func (f *Filter) Allow(entityID string) bool {
	if len(f.include) > 0 {
		_, ok := f.include[entityID]
		return ok
	}
	if len(f.exclude) > 0 {
		_, ok := f.exclude[entityID]
		return !ok
	}
	return true
}
