package proxy

// Kind selects one of the two pass lists.
type Kind string

const (
	// KindWeb is the plain HTTP pipeline.
	KindWeb Kind = "web"
	// KindWS is the protocol-upgrade pipeline.
	KindWS Kind = "ws"
)

// Pass is one named stage of the pipeline. Run returns true to halt the
// pipeline; later passes are not invoked. A pass may leave Name empty, but
// anonymous passes cannot anchor insertions.
type Pass struct {
	Name string
	Run  func(ctx *Context) bool
}

// PassList is an ordered sequence of passes with unique names.
type PassList struct {
	passes []Pass
}

func newPassList(passes ...Pass) *PassList {
	return &PassList{passes: passes}
}

// Names returns the pass names in order; anonymous passes appear as "".
func (l *PassList) Names() []string {
	names := make([]string, len(l.passes))
	for i, p := range l.passes {
		names[i] = p.Name
	}
	return names
}

func (l *PassList) index(name string) int {
	for i, p := range l.passes {
		if p.Name != "" && p.Name == name {
			return i
		}
	}
	return -1
}

// Before inserts p immediately before the pass named anchor.
func (l *PassList) Before(anchor string, p Pass) error {
	i := l.index(anchor)
	if i < 0 {
		return ErrNoSuchPass
	}
	return l.insert(i, p)
}

// After inserts p immediately after the pass named anchor.
func (l *PassList) After(anchor string, p Pass) error {
	i := l.index(anchor)
	if i < 0 {
		return ErrNoSuchPass
	}
	return l.insert(i+1, p)
}

func (l *PassList) insert(i int, p Pass) error {
	if p.Name != "" && l.index(p.Name) >= 0 {
		return ErrDuplicatePass
	}
	l.passes = append(l.passes, Pass{})
	copy(l.passes[i+1:], l.passes[i:])
	l.passes[i] = p
	return nil
}
