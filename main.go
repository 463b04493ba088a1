// MacroRec - global input recorder with screenshot capture
package main

import "macrorec/cmd"

func main() {
	cmd.Execute()
}
