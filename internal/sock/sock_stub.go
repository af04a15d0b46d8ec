//go:build !unix

package sock

import "errors"

var errUnsupported = errors.New("sock: this platform is not supported")

func Listen(string, int, int) (int, error)   { return -1, errUnsupported }
func Connect(string, int) (int, bool, error) { return -1, false, errUnsupported }
func Accept(int) (int, string, error)        { return -1, "", errUnsupported }
func Error(int) error                        { return errUnsupported }
func Read(int, []byte) (int, error)          { return 0, errUnsupported }
func Peek(int, []byte) (int, error)          { return 0, errUnsupported }
func Write(int, []byte) (int, error)         { return 0, errUnsupported }
func WouldBlock(error) bool                  { return false }
func LocalAddr(int) (string, int, error)     { return "", 0, errUnsupported }
func Close(int) error                        { return errUnsupported }
