/*
 *
 * Copyright 2025 The TSR Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package handoff

import (
	"os"
	"path/filepath"
)

const shmDir = "/dev/shm"

// segmentPath returns the filesystem path for a named shared segment.
// Prefers /dev/shm (tmpfs, so the backing pages never touch disk) and falls
// back to the system temp dir where /dev/shm does not exist.
func segmentPath(name string) string {
	dir := shmDir
	if st, err := os.Stat(shmDir); err != nil || !st.IsDir() {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "tsr_"+name)
}
