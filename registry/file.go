// Copyright 2025 The go-zeromq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// File is the on-disk layout of a registry file:
//
//	services:
//	  - service_id: echo
//	    address: tcp://127.0.0.1:5601
//	    active: true
type File struct {
	Services []Entry `yaml:"services"`
}

// Parse decodes registry entries from YAML. Unknown fields are rejected.
func Parse(r io.Reader) ([]Entry, error) {
	var f File
	var dec = yaml.NewDecoder(r)
	dec.SetStrict(true)

	if err := dec.Decode(&f); err == io.EOF {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "registry: decoding YAML")
	}
	return f.Services, nil
}

// Load reads registry entries from the YAML file at path.
func Load(path string) ([]Entry, error) {
	var fin, err = os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "registry: opening %s", path)
	}
	defer fin.Close()

	entries, err := Parse(fin)
	if err != nil {
		return nil, errors.WithMessagef(err, "file %s", path)
	}
	return entries, nil
}
