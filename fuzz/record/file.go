// Copyright 2025 Sonic Labs
// This file is part of Aida Testing Infrastructure for Sonic
//
// Aida is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Aida is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Aida. If not, see <http://www.gnu.org/licenses/>.

package record

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression of a log file, derived from its extension.
type Compression int

const (
	Plain Compression = iota
	Gzip
	Zstd
)

func CompressionOf(path string) Compression {
	switch {
	case strings.HasSuffix(path, ".gz"):
		return Gzip
	case strings.HasSuffix(path, ".zst"):
		return Zstd
	default:
		return Plain
	}
}

func (c Compression) String() string {
	switch c {
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	default:
		return "plain"
	}
}

// Write stores log at path. The file must not exist yet.
func Write(path string, log *Log) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("file %s already exists", path)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	return errors.CombineErrors(Encode(file, CompressionOf(path), log), file.Close())
}

// Encode writes log to w using the given compression.
func Encode(w io.Writer, c Compression, log *Log) error {
	var (
		sink   io.Writer = w
		closer io.Closer
	)
	switch c {
	case Gzip:
		gz := gzip.NewWriter(w)
		sink, closer = gz, gz
	case Zstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return errors.Wrap(err, "cannot create zstd writer")
		}
		sink, closer = zw, zw
	}
	buffer := bufio.NewWriter(sink)
	enc := json.NewEncoder(buffer)
	enc.SetIndent("", " ")
	err := enc.Encode(log)
	err = errors.CombineErrors(err, buffer.Flush())
	if closer != nil {
		err = errors.CombineErrors(err, closer.Close())
	}
	return errors.Wrap(err, "cannot write replay log")
}

// Read loads the log stored at path.
func Read(path string) (*Log, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("could not stat file: %s, does it exist? %w", path, err)
	}
	if stat.IsDir() {
		return nil, errors.New("given path to replay log is a directory")
	}
	if stat.Size() == 0 {
		return nil, errors.New("given replay log is empty")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open replay log: %s, %w", path, err)
	}
	defer file.Close()
	return Decode(file, CompressionOf(path))
}

// Decode reads a log from r.
func Decode(r io.Reader, c Compression) (*Log, error) {
	source := r
	switch c {
	case Gzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "could not create gzip reader for replay log")
		}
		defer gz.Close()
		source = gz
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "could not create zstd reader for replay log")
		}
		defer zr.Close()
		source = zr
	}
	var log Log
	if err := json.NewDecoder(bufio.NewReader(source)).Decode(&log); err != nil {
		return nil, errors.Wrap(err, "cannot decode replay log")
	}
	if err := log.validate(); err != nil {
		return nil, err
	}
	return &log, nil
}
