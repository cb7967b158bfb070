// Package checkpoints implements the file-based checkpoint port: saving and
// loading of named tensor state.
//
// The Handler is created by calling Build, followed by the option setters and
// finally Config.Done:
//
//	ckpt, err := checkpoints.Build().Dir("/tmp/run1").Keep(3).Done()
//
// Each Save writes one checkpoint: a gob file with the tensor state next to a
// JSON metadata sidecar (run id, timestamp, tensor names and shapes). Writes go
// to a temporary file first and are renamed into place, so readers never see a
// partial checkpoint. When more than Keep(n) checkpoints accumulate under the
// directory, the oldest are removed.
//
// On a multi-unit topology only the global-zero unit should write (the
// orchestrator gates Save on Strategy.IsGlobalZero); the Handler itself assumes
// a single writer.
package checkpoints

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gradflow/gradflow/strategies"
	"github.com/gradflow/gradflow/tensors"
)

// DirPermMode is the default directory creation permission (before umask) used.
var DirPermMode = os.FileMode(0770)

// metadataSuffix is appended to a checkpoint path for its JSON sidecar.
const metadataSuffix = ".json"

// Config for the Handler to be created. Create it with Build, configure it with
// the setter methods and call Done.
type Config struct {
	err  error
	dir  string
	keep int
}

// Build starts the configuration of a new checkpoint Handler.
func Build() *Config {
	return &Config{keep: -1}
}

// Dir sets the directory checkpoints are saved under. It is created if needed.
// Required.
func (c *Config) Dir(dir string) *Config {
	c.dir = dir
	return c
}

// TempDir creates a temporary directory for the checkpoints, under dir (or the
// default temp directory if empty), with the given prefix. Mostly used for tests.
func (c *Config) TempDir(dir, prefix string) *Config {
	if c.err != nil {
		return c
	}
	c.dir, c.err = os.MkdirTemp(dir, prefix)
	if c.err != nil {
		c.err = errors.Wrapf(c.err, "creating temporary checkpoint directory (%q, %q)", dir, prefix)
	}
	return c
}

// Keep sets how many past checkpoints to keep. Older ones are removed at Save.
// A negative value (the default) keeps all.
func (c *Config) Keep(n int) *Config {
	c.keep = n
	return c
}

// Done finishes the configuration and returns the Handler.
func (c *Config) Done() (*Handler, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.dir == "" {
		return nil, errors.New("checkpoints.Build requires a directory, set it with Dir or TempDir")
	}
	if err := os.MkdirAll(c.dir, DirPermMode); err != nil {
		return nil, errors.Wrapf(err, "creating checkpoint directory %q", c.dir)
	}
	return &Handler{
		dir:   c.dir,
		keep:  c.keep,
		runID: uuid.NewString(),
	}, nil
}

// MustDone is Done, panicking on error. Mostly used for tests.
func (c *Config) MustDone() *Handler {
	handler, err := c.Done()
	if err != nil {
		panic(err)
	}
	return handler
}

// Handler saves and loads checkpoints under one directory. It implements the
// strategies.CheckpointIO port.
type Handler struct {
	dir   string
	keep  int
	runID string
}

var _ strategies.CheckpointIO = (*Handler)(nil)

// Metadata is the JSON sidecar written next to each checkpoint.
type Metadata struct {
	RunID     string         `json:"run_id"`
	SavedAt   time.Time      `json:"saved_at"`
	Tensors   map[string]any `json:"tensors"` // name -> {dtype, dims}
	NumValues int            `json:"num_values"`
}

// Dir the handler saves under.
func (h *Handler) Dir() string { return h.dir }

// SaveStep saves the state under a step-numbered name inside the handler's
// directory and applies the retention policy. Returns the checkpoint path.
func (h *Handler) SaveStep(step int, state map[string]*tensors.Tensor) (string, error) {
	path := filepath.Join(h.dir, checkpointName(step))
	if err := h.Save(path, state); err != nil {
		return "", err
	}
	h.collectGarbage()
	return path, nil
}

// Save implements strategies.CheckpointIO: it writes the named tensors to path
// atomically (temp file plus rename), with a JSON metadata sidecar.
func (h *Handler) Save(path string, state map[string]*tensors.Tensor) error {
	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	sort.Strings(names)

	tmpFile, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err != nil {
		return errors.Wrapf(err, "creating temporary file for checkpoint %q", path)
	}
	tmpPath := tmpFile.Name()
	enc := gob.NewEncoder(tmpFile)
	err = enc.Encode(names)
	if err == nil {
		for _, name := range names {
			if err = state[name].GobSerialize(enc); err != nil {
				err = errors.WithMessagef(err, "serializing tensor %q", name)
				break
			}
		}
	}
	if closeErr := tmpFile.Close(); err == nil && closeErr != nil {
		err = errors.Wrapf(closeErr, "closing checkpoint %q", tmpPath)
	}
	if err == nil {
		err = os.Rename(tmpPath, path)
	}
	if err != nil {
		if removeErr := os.Remove(tmpPath); removeErr != nil && !os.IsNotExist(removeErr) {
			klog.Warningf("failed to remove temporary checkpoint file %q: %v", tmpPath, removeErr)
		}
		return errors.WithMessagef(err, "saving checkpoint %q", path)
	}

	if err = h.writeMetadata(path, state); err != nil {
		// The checkpoint itself is in place and loadable; metadata is informational.
		klog.Warningf("checkpoint %q saved, but writing metadata failed: %v", path, err)
	}
	return nil
}

// Load implements strategies.CheckpointIO.
func (h *Handler) Load(path string) (map[string]*tensors.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening checkpoint %q", path)
	}
	defer func() { _ = f.Close() }()
	dec := gob.NewDecoder(f)
	var names []string
	if err = dec.Decode(&names); err != nil {
		return nil, errors.Wrapf(err, "reading checkpoint index from %q", path)
	}
	state := make(map[string]*tensors.Tensor, len(names))
	for _, name := range names {
		t, err := tensors.GobDeserialize(dec)
		if err != nil {
			return nil, errors.WithMessagef(err, "reading tensor %q from checkpoint %q", name, path)
		}
		state[name] = t
	}
	return state, nil
}

// LoadLatest loads the most recent step-numbered checkpoint in the handler's
// directory. It returns os.ErrNotExist (wrapped) if there is none.
func (h *Handler) LoadLatest() (map[string]*tensors.Tensor, error) {
	list, err := h.ListCheckpoints()
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.Wrapf(os.ErrNotExist, "no checkpoints under %q", h.dir)
	}
	return h.Load(list[len(list)-1])
}

// Remove implements strategies.CheckpointIO: it deletes the checkpoint and its
// metadata sidecar.
func (h *Handler) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing checkpoint %q", path)
	}
	if err := os.Remove(path + metadataSuffix); err != nil && !os.IsNotExist(err) {
		klog.Warningf("failed to remove checkpoint metadata %q: %v", path+metadataSuffix, err)
	}
	return nil
}

// ListCheckpoints returns the step-numbered checkpoints under the handler's
// directory, oldest first.
func (h *Handler) ListCheckpoints() ([]string, error) {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing checkpoint directory %q", h.dir)
	}
	var list []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "checkpoint-") || strings.HasSuffix(name, metadataSuffix) {
			continue
		}
		list = append(list, filepath.Join(h.dir, name))
	}
	sort.Strings(list)
	return list, nil
}

func (h *Handler) writeMetadata(path string, state map[string]*tensors.Tensor) error {
	md := Metadata{
		RunID:   h.runID,
		SavedAt: time.Now(),
		Tensors: make(map[string]any, len(state)),
	}
	for name, t := range state {
		md.Tensors[name] = map[string]any{"dtype": t.DType().String(), "dims": t.Dimensions()}
		md.NumValues += t.Size()
	}
	encoded, err := json.MarshalIndent(md, "", "\t")
	if err != nil {
		return errors.Wrap(err, "encoding checkpoint metadata")
	}
	return errors.Wrapf(os.WriteFile(path+metadataSuffix, encoded, 0660), "writing %q", path+metadataSuffix)
}

// collectGarbage applies the Keep(n) retention policy. Best-effort: failures
// are logged, a pile of old checkpoints never blocks training.
func (h *Handler) collectGarbage() {
	if h.keep < 0 {
		return
	}
	list, err := h.ListCheckpoints()
	if err != nil {
		klog.Warningf("checkpoint garbage collection: %v", err)
		return
	}
	for len(list) > h.keep {
		if err := h.Remove(list[0]); err != nil {
			klog.Warningf("checkpoint garbage collection: %v", err)
			return
		}
		list = list[1:]
	}
}

// checkpointName renders the step-numbered file name, zero-padded so the
// lexicographic order used by ListCheckpoints matches the step order.
func checkpointName(step int) string {
	return fmt.Sprintf("checkpoint-%012d", step)
}
