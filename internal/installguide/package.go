package installguide

import (
	"archive/tar"
	"fmt"
	"io"
	"time"

	"github.com/easy-station/hostlink/internal/templates"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

const (
	binaryMode = 0o755
	configMode = 0o644
	scriptMode = 0o755

	configFileName = "config.yaml"
)

// PackageFileName is the published archive name for an OS.
func PackageFileName(osType templates.OSType) string {
	switch osType {
	case templates.OSWindows:
		return "host-agent-windows.zip"
	case templates.OSMacOS:
		return "host-agent-macos.tar.gz"
	default:
		return "host-agent-linux.tar.gz"
	}
}

func ContentType(osType templates.OSType) string {
	if osType == templates.OSWindows {
		return "application/zip"
	}
	return "application/gzip"
}

// WritePackage streams the agent bundle: binary, config.yaml and the
// lifecycle scripts. Windows gets a zip, everything else a tar.gz.
func WritePackage(w io.Writer, res Resource, binary io.Reader, config string) error {
	windows := res.OSType == templates.OSWindows
	scripts := scriptsFor(windows, res.FileName)
	if windows {
		return writeZip(w, res.FileName, binary, config, scripts)
	}
	return writeTarGz(w, res.FileName, binary, config, scripts)
}

func writeZip(w io.Writer, binaryName string, binary io.Reader, config string, scripts []script) error {
	zw := zip.NewWriter(w)

	entry, err := zw.Create(binaryName)
	if err != nil {
		return fmt.Errorf("zip %s: %w", binaryName, err)
	}
	if _, err := io.Copy(entry, binary); err != nil {
		return fmt.Errorf("zip %s: %w", binaryName, err)
	}

	if err := zipText(zw, configFileName, config); err != nil {
		return err
	}
	for _, s := range scripts {
		if err := zipText(zw, s.name, s.body); err != nil {
			return err
		}
	}
	return zw.Close()
}

func zipText(zw *zip.Writer, name, content string) error {
	entry, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("zip %s: %w", name, err)
	}
	if _, err := io.WriteString(entry, content); err != nil {
		return fmt.Errorf("zip %s: %w", name, err)
	}
	return nil
}

func writeTarGz(w io.Writer, binaryName string, binary io.Reader, config string, scripts []script) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	now := time.Now()

	// tar headers need the size up front.
	data, err := io.ReadAll(binary)
	if err != nil {
		return fmt.Errorf("read agent binary: %w", err)
	}
	if err := tarFile(tw, binaryName, data, binaryMode, now); err != nil {
		return err
	}
	if err := tarFile(tw, configFileName, []byte(config), configMode, now); err != nil {
		return err
	}
	for _, s := range scripts {
		if err := tarFile(tw, s.name, []byte(s.body), scriptMode, now); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	return gz.Close()
}

func tarFile(tw *tar.Writer, name string, data []byte, mode int64, modTime time.Time) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    mode,
		Size:    int64(len(data)),
		ModTime: modTime,
		Format:  tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("tar %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("tar %s: %w", name, err)
	}
	return nil
}
