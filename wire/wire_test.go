package wire_test

import (
	"reflect"
	"testing"

	"github.com/leftmike/kumo/wire"
)

func TestVersionCompare(t *testing.T) {
	cases := []struct {
		v1, v2 wire.Version
		cmp    int
	}{
		{wire.Ver1_0, wire.Ver1_0, 0},
		{wire.Ver1_0, wire.Ver1_4, -1},
		{wire.Ver1_4, wire.Ver1_0, 1},
		{wire.Ver1_4, wire.Ver2_0, -1},
		{wire.Ver2_0, wire.Ver1_4, 1},
		{wire.Version{Major: 0, Minor: 9}, wire.Ver1_0, -1},
		{wire.Version{Major: 2, Minor: 1}, wire.Ver2_0, 1},
	}

	for _, c := range cases {
		cmp := c.v1.Compare(c.v2)
		if cmp != c.cmp {
			t.Errorf("Compare(%s, %s) got %d want %d", c.v1, c.v2, cmp, c.cmp)
		}
	}
}

func TestSupportedVersion(t *testing.T) {
	supported := []wire.Version{wire.Ver1_0, wire.Ver1_4, wire.Ver2_0, wire.CurrentVersion}
	for _, v := range supported {
		if !wire.SupportedVersion(v) {
			t.Errorf("SupportedVersion(%s) got false want true", v)
		}
	}

	unsupported := []wire.Version{
		{Major: 0, Minor: 9},
		{Major: 1, Minor: 1},
		{Major: 2, Minor: 1},
		{Major: 3, Minor: 0},
	}
	for _, v := range unsupported {
		if wire.SupportedVersion(v) {
			t.Errorf("SupportedVersion(%s) got true want false", v)
		}
	}
}

func TestColumnMetaDowngrade(t *testing.T) {
	cm := wire.ColumnMeta{
		Schema:    "public",
		Table:     "t1",
		Name:      "c1",
		Type:      "DECIMAL",
		Nullable:  true,
		Precision: 10,
		Scale:     2,
		Default:   "0",
	}

	v2 := wire.ColumnMetaV2{
		Schema:   "public",
		Table:    "t1",
		Name:     "c1",
		Type:     "DECIMAL",
		Nullable: true,
	}
	if !reflect.DeepEqual(cm.V2(), v2) {
		t.Errorf("V2() got %#v want %#v", cm.V2(), v2)
	}

	v1 := wire.ColumnMetaV1{
		Schema: "public",
		Table:  "t1",
		Name:   "c1",
		Type:   "DECIMAL",
	}
	if !reflect.DeepEqual(cm.V1(), v1) {
		t.Errorf("V1() got %#v want %#v", cm.V1(), v1)
	}
}
