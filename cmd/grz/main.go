package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/nimblearc/gozmodem/transport"
	"github.com/nimblearc/gozmodem/zmodem"
)

var (
	verbose    = flag.Bool("v", false, "verbose mode")
	quiet      = flag.Bool("q", false, "quiet mode")
	overwrite  = flag.Bool("y", false, "accept every file, even with -p (existing files are resumed or renamed)")
	protect    = flag.Bool("p", false, "protect existing files")
	escape     = flag.Bool("e", false, "escape control characters")
	crc16      = flag.Bool("crc16", false, "use 16-bit CRC instead of 32-bit")
	challenge  = flag.Bool("challenge", false, "issue a ZCHALLENGE before ZRINIT")
	dir        = flag.String("dir", ".", "directory to write received files into")
	timeoutSec = flag.Int("t", 10, "per-state timeout in seconds")
	sshAddr    = flag.String("ssh", "", "host:port of a remote sz to receive from over SSH")
	sshUser    = flag.String("user", "", "SSH username (used with -ssh)")
	help       = flag.Bool("h", false, "show help")
	version    = flag.Bool("version", false, "show version")
	logPath    = flag.String("log", "", "protocol trace log file")
)

const versionString = "grz version 0.2.0"

func main() {
	flag.Parse()

	if *help {
		showUsage(0)
	}
	if *version {
		fmt.Println(versionString)
		os.Exit(0)
	}

	if info, err := os.Stat(*dir); err != nil || !info.IsDir() {
		fmt.Fprintf(os.Stderr, "%s: %s is not a directory\n", os.Args[0], *dir)
		os.Exit(1)
	}

	logger := openLogger(*logPath)

	config := zmodem.DefaultConfig()
	config.Use32BitCRC = !*crc16
	config.EscapeControl = *escape
	config.ZChallenge = *challenge
	config.Timeout = time.Duration(*timeoutSec) * time.Second
	config.DownloadDir = *dir

	session := zmodem.NewReceiverSession(*dir,
		zmodem.WithConfig(config),
		zmodem.WithCallbacks(cliCallbacks()),
		zmodem.WithSessionLogger(logger),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		session.Stop(true)
	}()

	var err error
	if *sshAddr != "" {
		err = receiveOverSSH(session, logger)
	} else {
		err = transport.PumpDuplex(os.Stdin, os.Stdout, session, logger, 4096)
	}

	if err != nil {
		if !*quiet {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func receiveOverSSH(session *zmodem.Session, logger zmodem.Logger) error {
	if *sshUser == "" {
		return fmt.Errorf("-user is required with -ssh")
	}
	sshCfg := &ssh.ClientConfig{
		User:            *sshUser,
		Auth:            []ssh.AuthMethod{ssh.PasswordCallback(promptPassword)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}
	conn, err := transport.DialAndRun(*sshAddr, sshCfg, "sz --zmodem")
	if err != nil {
		return err
	}
	defer conn.Close()
	return transport.Pump(conn, session, logger, 4096)
}

func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	var pw string
	fmt.Scanln(&pw)
	return pw, nil
}

func cliCallbacks() *zmodem.Callbacks {
	return &zmodem.Callbacks{
		OnFilePrompt: func(filename string, size int64, mode os.FileMode) (bool, error) {
			if *overwrite || *quiet {
				return true, nil
			}
			if *protect {
				if _, err := os.Stat(filepath.Join(*dir, filename)); err == nil {
					if *verbose {
						fmt.Fprintf(os.Stderr, "Skipping %s (protected)\n", filename)
					}
					return false, nil
				}
			}
			if *verbose {
				fmt.Fprintf(os.Stderr, "Receiving: %s (%d bytes)\n", filename, size)
			}
			return true, nil
		},
		OnProgress: func(filename string, transferred, total int64, rate float64) {
			if *quiet || !*verbose {
				return
			}
			percent := float64(0)
			if total > 0 {
				percent = float64(transferred) / float64(total) * 100
			}
			fmt.Fprintf(os.Stderr, "\r%s: %.1f%% (%.0f bytes/s)", filename, percent, rate)
		},
		OnFileStart: func(filename string, size int64, mode os.FileMode) {
			if *verbose && !*quiet {
				fmt.Fprintf(os.Stderr, "Starting: %s\n", filename)
			}
		},
		OnFileComplete: func(filename string, bytesTransferred int64, duration time.Duration) {
			if *quiet {
				return
			}
			if *verbose {
				fmt.Fprintf(os.Stderr, "\nCompleted: %s (%d bytes in %v)\n", filename, bytesTransferred, duration)
			} else {
				fmt.Fprintf(os.Stderr, "%s\n", filename)
			}
		},
		OnError: func(err error, context string) bool {
			fmt.Fprintf(os.Stderr, "Error in %s: %v\n", context, err)
			return false
		},
	}
}

func openLogger(path string) zmodem.Logger {
	if path == "" {
		return zmodem.NoopLogger{}
	}
	l, err := zmodem.NewFileLogger(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not open log file %s: %v\n", path, err)
		return zmodem.NoopLogger{}
	}
	return l
}

func showUsage(exitcode int) {
	fmt.Fprintf(os.Stderr, `%s - receive files with ZMODEM protocol

Usage: %s [options]

Options:
  -e               escape control characters
  -crc16           use 16-bit CRC instead of 32-bit
  -challenge       issue a ZCHALLENGE before ZRINIT
  -dir path        directory to write received files into (default ".")
  -h               show this help message
  -p               protect existing files
  -q               quiet mode, minimal output
  -t N             per-state timeout in seconds (default: 10)
  -v               verbose mode
  -y               accept every file, even with -p
  -ssh host:port   receive from a remote sz over SSH instead of stdio
  -user name       SSH username (used with -ssh)
  -log path        write a protocol trace to path
  -version         show version

Examples:
  %s                                  # Receive over stdio
  %s -dir /tmp/incoming -y            # Accept all files into a target directory
  %s -ssh host:22 -user alice         # Receive from a remote sz over SSH

`, versionString, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	os.Exit(exitcode)
}
