package theme

import (
	"fmt"
	"io"
)

// Banner returns the skyward banner shown by init.
func Banner() string {
	const cyan = "\033[36m"
	const blue = "\033[34m"
	const reset = "\033[0m"

	art := "" +
		blue + "      .  ~  ~  .   " + reset + "SKYWARD\n" +
		cyan + "   ~ (  ) ~ ( ) ~\n" + reset +
		cyan + "  ~~~~~~~~~~~~~~~~~~~~~~\n" + reset +
		"   follow, like and welcome on Bluesky\n"
	return art
}

// PrintBanner writes the banner to w.
func PrintBanner(w io.Writer) {
	fmt.Fprint(w, Banner())
}
