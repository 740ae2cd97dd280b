package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// CheckOutFile verifies that the shared output file written inside the
// critical section alternates entry '|' and exit '.' marks, which is only
// possible if no two processes were inside at the same time.
func CheckOutFile(filepath string) error {
	file, err := os.Open(filepath)
	if err != nil {
		return fmt.Errorf("error opening file: %w", err)
	}
	defer file.Close()

	return checkMarks(bufio.NewReader(file))
}

func checkMarks(reader *bufio.Reader) error {
	var expectedChar byte = '|'
	nReadChars := 0
	for {
		readChar, err := reader.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("error reading byte from file: %w", err)
		}
		nReadChars++

		if readChar != expectedChar {
			return fmt.Errorf("unexpected character read from file: %c (char no. %d)", readChar, nReadChars)
		}

		if expectedChar == '|' {
			expectedChar = '.'
		} else {
			expectedChar = '|'
		}
	}

	if expectedChar != '|' {
		return fmt.Errorf("file ends inside a critical section (after %d chars)", nReadChars)
	}
	return nil
}
