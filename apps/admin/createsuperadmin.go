package main

import (
	"context"
	"fmt"
)

// createSuperadmin runs the bootstrap seed: creates the first superadmin
// account, or reports the existing one.
func (cli *commandLine) createSuperadmin(name, email, pwd string) error {
	idt, err := cli.idtSvc.EnsureSuperadmin(context.Background(), name, email, pwd)
	if err != nil {
		return err
	}
	fmt.Printf("superadmin: %s <%s>\n", idt.Name, idt.Email)
	return nil
}
