package cmd

import (
	"fmt"
)

const banner = `
     _    _             _       _       ____       _     _            
    / \  | | __ _  ___ | | __ _| |__   | __ ) _ __(_) __| | __ _  ___ 
   / _ \ | |/ _` + "`" + ` |/ _ \| |/ _` + "`" + ` | '_ \  |  _ \| '__| |/ _` + "`" + ` |/ _` + "`" + ` |/ _ \
  / ___ \| | (_| | (_) | | (_| | |_) | | |_) | |  | | (_| | (_| |  __/
 /_/   \_\_|\__, |\___/|_|\__,_|_.__/  |____/|_|  |_|\__,_|\__, |\___|
            |___/                                          |___/      
`

func printBanner(mock bool) {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	mode := "live"
	if mock {
		mode = "simulated"
	}
	fmt.Printf("\x1b[32m  Brokerage Bridge - Version %s (%s broker)\x1b[0m\n\n", Version, mode)
}
