package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/nimblearc/gozmodem/transport"
	"github.com/nimblearc/gozmodem/zmodem"
)

var (
	verbose    = flag.Bool("v", false, "verbose mode")
	quiet      = flag.Bool("q", false, "quiet mode")
	escape     = flag.Bool("e", false, "escape control characters")
	crc16      = flag.Bool("crc16", false, "use 16-bit CRC instead of 32-bit")
	challenge  = flag.Bool("challenge", false, "expect the receiver to issue a ZCHALLENGE")
	timeoutSec = flag.Int("t", 10, "per-state timeout in seconds")
	sshAddr    = flag.String("ssh", "", "host:port of a remote rz to send to over SSH")
	sshUser    = flag.String("user", "", "SSH username (used with -ssh)")
	help       = flag.Bool("h", false, "show help")
	version    = flag.Bool("version", false, "show version")
	logPath    = flag.String("log", "", "protocol trace log file")
)

const versionString = "gsz version 0.2.0"

func main() {
	flag.Parse()

	if *help {
		showUsage(0)
	}
	if *version {
		fmt.Println(versionString)
		os.Exit(0)
	}

	files := flag.Args()
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "%s: no files specified\n", os.Args[0])
		showUsage(1)
	}
	for _, f := range files {
		if info, err := os.Stat(f); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
			os.Exit(1)
		} else if info.IsDir() {
			fmt.Fprintf(os.Stderr, "%s: %s is a directory\n", os.Args[0], f)
			os.Exit(1)
		}
	}

	logger := openLogger(*logPath)

	config := zmodem.DefaultConfig()
	config.Use32BitCRC = !*crc16
	config.EscapeControl = *escape
	config.ZChallenge = *challenge
	config.Timeout = time.Duration(*timeoutSec) * time.Second

	session := zmodem.NewSenderSession(files,
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
		err = sendOverSSH(session, logger)
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

func sendOverSSH(session *zmodem.Session, logger zmodem.Logger) error {
	if *sshUser == "" {
		return fmt.Errorf("-user is required with -ssh")
	}
	sshCfg := &ssh.ClientConfig{
		User:            *sshUser,
		Auth:            []ssh.AuthMethod{ssh.PasswordCallback(promptPassword)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}
	conn, err := transport.DialAndRun(*sshAddr, sshCfg, "rz --zmodem")
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
				fmt.Fprintf(os.Stderr, "Sending: %s (%d bytes)\n", filename, size)
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
	fmt.Fprintf(os.Stderr, `%s - send files with ZMODEM protocol

Usage: %s [options] file...

Options:
  -e               escape control characters
  -crc16           use 16-bit CRC instead of 32-bit
  -challenge       expect the receiver to issue a ZCHALLENGE
  -h               show this help message
  -q               quiet mode, minimal output
  -t N             per-state timeout in seconds (default: 10)
  -v               verbose mode
  -ssh host:port   send to a remote rz over SSH instead of stdio
  -user name       SSH username (used with -ssh)
  -log path        write a protocol trace to path
  -version         show version

Examples:
  %s file.txt                       # Send over stdio (e.g. piped through a modem link)
  %s -ssh host:22 -user alice f.txt # Send to a remote rz over SSH

`, versionString, os.Args[0], os.Args[0], os.Args[0])
	os.Exit(exitcode)
}
