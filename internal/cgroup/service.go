// Package cgroup confines each job's sandboxed process tree to a Linux
// cgroup v2, enforcing the memory and CPU ceilings execution requests carry.
// File-size and open-file-descriptor ceilings are enforced separately by the
// executor via rlimits, since cgroups v2 has no file-size controller.
package cgroup

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sandboxlabs/execcore/internal/log"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// logger is an object for logging package events.
var logger = log.New("cgroup")

// NewService creates a Service instance, mounting the cgroup2 filesystem at
// mountPath if it is not already mounted and enabling the controllers
// execution limits depend on.
func NewService(options ...ServiceOption) (*Service, error) {
	s := &Service{
		mountPath: mountPath,
	}
	for _, option := range options {
		option(s)
	}

	s.path = path.Join(s.mountPath, execcoreBase)

	if err := s.mount(); err != nil {
		return nil, err
	}

	controllers := []string{
		cpu,
		memory,
	}
	if err := s.enableControllers(controllers); err != nil {
		return nil, err
	}

	return s, nil
}

// Service facilitates cgroup interactions. Service currently only supports
// cgroups v2.
type Service struct {
	mountPath string
	path      string
}

// ServiceOption mutates the Service instance. Typically used for
// configuration with NewService.
type ServiceOption func(*Service)

// WithMountPath configures the Service instance to mount cgroup2 on mountPath.
func WithMountPath(mountPath string) ServiceOption {
	return func(s *Service) { s.mountPath = mountPath }
}

// CreateCgroup creates a new Service Cgroup. CgroupOptions may be specified
// to configure the Cgroup's resource ceilings. On success, the created
// Cgroup is returned to the caller.
func (s Service) CreateCgroup(options ...CgroupOption) (*Cgroup, error) {
	id := uuid.New()
	cgroup := &Cgroup{
		ID:      id,
		service: s,
		path:    path.Join(s.path, id.String()),
	}
	for _, option := range options {
		option(cgroup)
	}

	if err := cgroup.create(); err != nil {
		return nil, err
	}

	return cgroup, nil
}

// PlaceInCgroup places the pid in the Cgroup specified.
func (s Service) PlaceInCgroup(cgroup Cgroup, pid int) error {
	return cgroup.placePID(pid)
}

// RemoveCgroup removes the cgroup uniquely identified by the specified id.
// The executor calls this on every exit path of a supervised process
// (normal exit, timeout kill, or cancellation) so no cgroup ever outlives
// its job.
func (s Service) RemoveCgroup(id uuid.UUID) error {
	cgroup := Cgroup{ID: id, service: s, path: path.Join(s.path, id.String())}

	return cgroup.remove()
}

// Cleanup removes all Service resources. Whenever a Service instance is
// used, Cleanup should always be called before application close.
func (s Service) Cleanup() error {
	if err := s.cleanup(); err != nil {
		return err
	}

	if err := s.unmount(); err != nil {
		return err
	}

	return nil
}

// placeInRootCgroup moves the pids into the root cgroup.
func (s Service) placeInRootCgroup(pids []int) error {
	file := path.Join(s.mountPath, cgroupProcs)
	fd, err := os.OpenFile(file, os.O_WRONLY, fileMode)
	if err != nil {
		return fmt.Errorf("open root cgroup: %w", err)
	}
	defer fd.Close()

	for _, pid := range pids {
		if _, err := fd.WriteString(strconv.Itoa(pid)); err != nil {
			return fmt.Errorf("write to root cgroup: %w", err)
		}
	}

	return nil
}

// mount sets up the cgroup2 filesystem and creates a cgroup dedicated to
// execcore jobs.
func (s Service) mount() error {
	if err := os.MkdirAll(s.mountPath, fileMode); err != nil {
		return fmt.Errorf("mount service %s: %w", s.mountPath, err)
	}

	entries, err := os.ReadDir(s.mountPath)
	if err != nil || len(entries) == 0 {
		if err := s.mountCgroup2(); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(s.path, fileMode); err != nil {
		return fmt.Errorf("create execcore cgroup: %w", err)
	}

	return nil
}

// mountCgroup2 mounts cgroup2 to the Service mountPath.
func (s Service) mountCgroup2() error {
	if err := unix.Mount("none", s.mountPath, "cgroup2", 0, ""); err != nil {
		return fmt.Errorf("mount cgroup2 %s: %w", s.mountPath, err)
	}
	return nil
}

// cleanup walks the Service base directory, moving all job pids into the
// root cgroup and removing each cgroup directory.
func (s Service) cleanup() error {
	var cgroups []uuid.UUID

	if err := filepath.WalkDir(s.path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Errorf("cleanup walking dir: %s", err)
			return nil
		}

		if !d.Type().IsRegular() || d.Name() != cgroupProcs {
			return nil
		}

		parts := strings.Split(path, s.mountPath)
		if len(parts) != 2 {
			return nil
		}

		cgroup2Path := parts[1]
		parts = strings.Split(cgroup2Path, string(filepath.Separator))
		if len(parts) != 4 {
			return nil
		}

		cgroupID, err := uuid.Parse(parts[2])
		if err != nil {
			logger.Errorf("non-uuid dir; dir: %s", parts[2])
			return nil
		}

		cgroups = append(cgroups, cgroupID)

		return nil
	}); err != nil {
		return fmt.Errorf("cleanup execcore cgroup: %w", err)
	}

	for _, cgroup := range cgroups {
		if err := s.RemoveCgroup(cgroup); err != nil {
			return err
		}
	}

	if err := unix.Rmdir(s.path); err != nil {
		return fmt.Errorf("rm execcore cgroup: %w", err)
	}

	return nil
}

// unmount unmounts the cgroup2 filesystem.
func (s Service) unmount() error {
	if err := unix.Unmount(s.mountPath, 0); err != nil {
		return fmt.Errorf("unmount cgroup2: %w", err)
	}
	return nil
}

// enableControllers enables the passed controllers for the root and
// execcore base cgroup.
func (s Service) enableControllers(controllers []string) error {
	if err := enableControllers(s.mountPath, controllers); err != nil {
		return err
	}
	if err := enableControllers(s.path, controllers); err != nil {
		return err
	}
	return nil
}

// enableControllers enables the passed controllers for the cgroup path passed.
func enableControllers(dir string, controllers []string) error {
	fd, err := os.OpenFile(path.Join(dir, cgroupSubtreeControl), os.O_WRONLY, fileMode)
	if err != nil {
		return fmt.Errorf("open %s subtree_control: %w", dir, err)
	}
	defer fd.Close()

	for _, controller := range controllers {
		_, err := fd.WriteString(fmt.Sprintf("+%s", controller))
		if err != nil {
			return fmt.Errorf("enable %s %s controller: %w", dir, controller, err)
		}
	}

	return nil
}

const (
	// fileMode are the file permissions the cgroup package uses when
	// accessing files.
	fileMode = 0644
	// mountPath is the path the cgroup2 filesystem will be mounted on.
	mountPath = "/sys/fs/cgroup/execcore"
	// execcoreBase is the directory name execcore's job cgroups live within.
	execcoreBase = "jobs"
)
