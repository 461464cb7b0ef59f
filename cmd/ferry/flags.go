package main

import (
	"strconv"

	"github.com/spf13/pflag"

	"github.com/bamsammich/ferry/internal/filter"
)

var _ pflag.Value = (*sizeValue)(nil)

// sizeValue is a pflag.Value accepting human-readable sizes such as 50M.
type sizeValue int64

func (s *sizeValue) String() string {
	if *s == 0 {
		return ""
	}
	return strconv.FormatInt(int64(*s), 10)
}

func (*sizeValue) Type() string { return "size" }

func (s *sizeValue) Set(val string) error {
	n, err := filter.ParseSize(val)
	if err != nil {
		return err
	}
	*s = sizeValue(n)
	return nil
}
