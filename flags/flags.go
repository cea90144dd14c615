package flags

import (
	"strings"
)

// Flag is a session option: a default the console and the listeners hand
// to the server during the handshake.
type Flag int

const (
	DistributedJoins Flag = iota
	EnforceJoinOrder
	Collocated
	ReplicatedOnly
	Lazy
	SkipReducerOnUpdate
	AutoCloseCursors
)

type flagDefault struct {
	flag Flag
	def  bool
}

var (
	defaultFlags = map[string]flagDefault{
		"distributed_joins":      {DistributedJoins, false},
		"enforce_join_order":     {EnforceJoinOrder, false},
		"collocated":             {Collocated, false},
		"replicated_only":        {ReplicatedOnly, false},
		"lazy":                   {Lazy, false},
		"skip_reducer_on_update": {SkipReducerOnUpdate, false},
		"auto_close_cursors":     {AutoCloseCursors, false},
	}
)

func LookupFlag(nam string) (Flag, bool) {
	fd, ok := defaultFlags[strings.ToLower(nam)]
	return fd.flag, ok
}

func ListFlags(fn func(nam string, f Flag)) {
	for nam, fd := range defaultFlags {
		fn(nam, fd.flag)
	}
}

type Flags []bool

func (flgs Flags) GetFlag(f Flag) bool {
	return flgs[f]
}

func Default() Flags {
	flgs := make([]bool, len(defaultFlags))
	for _, fd := range defaultFlags {
		flgs[fd.flag] = fd.def
	}
	return flgs
}
