// Command harvester walks a document catalog and downloads its artifacts.
package main

import "github.com/JakeFAU/catalog-harvester/cmd"

func main() {
	cmd.Execute()
}
