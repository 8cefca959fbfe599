package serde

import "time"

type node struct {
	Name  string
	Next  *node
	Peers []*node
}

type point struct {
	X int32
	Y int32
}

type color int32

type nested struct {
	Matrix    [][]int32
	Index     map[string][]string
	Deep      map[string]map[int64]string
	Grid      [2][3]uint16
	Points    []point
	PtrPoints []*point
	ByName    map[string]*point
	Times     []time.Time
	Blob      []byte
	Flags     []bool
	Color     color
	Ratio     *float64
}

type holder struct {
	Label string
	Any   any
	List  []any
}

type base struct {
	ID      int64
	Created time.Time
}

type derived struct {
	base
	Title   string
	Ignored string `serde:"-"`
	Renamed string `serde:"alias"`
	secret  string
}

type personV1 struct {
	Name string
	Age  int32
}

type personV2 struct {
	Name  string
	Age   int32
	Email string
	Tags  []string
}

type addrV1 struct {
	City string
}

type addrV2 struct {
	City string
	Zip  string
}

type contactV1 struct {
	Name    string
	Address addrV1
	Extra   map[string]*addrV1
}

type contactV2 struct {
	Name    string
	Address addrV2
}

type orderA struct {
	Z string
	A int64
	M map[string]int
	B bool
	L []int
	F float64
	P *point
}

type orderB struct {
	P *point
	F float64
	L []int
	B bool
	M map[string]int
	A int64
	Z string
}
