package main

import "context"

func (cli *commandLine) resetPassword(identifier, pwd string) error {
	return cli.idtSvc.ResetPassword(context.Background(), identifier, pwd)
}
