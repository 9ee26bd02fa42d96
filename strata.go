package main

import (
	"github.com/danthegoodman1/strata/exec"
	"github.com/danthegoodman1/strata/metastore"
	"github.com/danthegoodman1/strata/partstore"
)

type (
	Strata struct {
		MetaStore metastore.MetaStore
		PartStore partstore.PartStore
		Runtime   exec.Runtime
	}
)

func NewStrata(ms metastore.MetaStore, ps partstore.PartStore, rt exec.Runtime) (*Strata, error) {
	s := &Strata{
		MetaStore: ms,
		PartStore: ps,
		Runtime:   rt,
	}

	return s, nil
}
