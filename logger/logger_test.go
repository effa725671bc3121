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

package logger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/op/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_NewLogger(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		logger := NewLogger("DEBUG", "testModule")
		assert.NotNil(t, logger)
		assert.True(t, logger.IsEnabledFor(logging.DEBUG))
	})

	t.Run("invalid log level", func(t *testing.T) {
		logger := NewLogger("INVALID", "testModule")
		assert.NotNil(t, logger)
		assert.True(t, logger.IsEnabledFor(logging.INFO))
		assert.False(t, logger.IsEnabledFor(logging.DEBUG))
	})

	t.Run("lower case level", func(t *testing.T) {
		logger := NewLogger("warning", "testModuleLower")
		assert.True(t, logger.IsEnabledFor(logging.WARNING))
		assert.False(t, logger.IsEnabledFor(logging.NOTICE))
	})

	t.Run("levels are kept per module", func(t *testing.T) {
		verbose := NewLogger("DEBUG", "testModuleVerbose")
		quiet := NewLogger("CRITICAL", "testModuleQuiet")
		assert.True(t, verbose.IsEnabledFor(logging.DEBUG))
		assert.False(t, quiet.IsEnabledFor(logging.ERROR))
		assert.True(t, quiet.IsEnabledFor(logging.CRITICAL))
	})
}

func TestLogger_AttachFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lendfuzz.log")
	closer := AttachFile(path)
	defer func() {
		require.NoError(t, AttachFile("").Close())
	}()
	require.NotNil(t, closer)

	log := NewLogger("INFO", "fileModule")
	log.Notice("written to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
	assert.Contains(t, string(data), "fileModule")
}

func TestLogger_ParseTime(t *testing.T) {
	elapsed := 3661 * time.Second // 1 hour, 1 minute, and 1 second
	hours, minutes, seconds := ParseTime(elapsed)

	assert.Equal(t, uint32(1), hours)
	assert.Equal(t, uint32(1), minutes)
	assert.Equal(t, uint32(1), seconds)
}
