package datasource

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"duck-cube/internal/cache"
	"duck-cube/internal/cube"
	"duck-cube/internal/domain"
	"duck-cube/internal/rolap"
)

// Source kinds.
const (
	KindNative     = "native"
	KindRelational = "relational"
)

// Deps carries everything a backend may need. Each kind uses a subset.
type Deps struct {
	Cube             *cube.Cube
	Descriptor       *rolap.Descriptor
	Relational       domain.RelationalExecutor
	Native           NativeExecutor
	Cache            *cache.Cache
	Logger           *slog.Logger
	PrefetchLimit    int
	NullMemberCompat bool
}

func (d Deps) logger(kind string) *slog.Logger {
	l := d.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", "datasource", "kind", kind)
}

type factory func(Deps) (Backend, error)

var registry = map[string]factory{
	KindNative:     newNativeBackend,
	KindRelational: newRelationalBackend,
}

// Kinds lists the registered source kinds.
func Kinds() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New builds the source registered under kind.
func New(kind string, deps Deps) (*Strategy, error) {
	f, ok := registry[kind]
	if !ok {
		return nil, domain.ErrValidation("unknown data source %q (want one of %s)", kind, strings.Join(Kinds(), ", "))
	}
	if deps.Cube == nil {
		return nil, fmt.Errorf("data source %s: cube is required", kind)
	}
	b, err := f(deps)
	if err != nil {
		return nil, fmt.Errorf("data source %s: %w", kind, err)
	}
	return NewStrategy(kind, deps.Cube, b, deps.Cache, deps.PrefetchLimit, deps.Logger), nil
}
