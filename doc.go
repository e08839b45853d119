// Package spicard drives SD cards and Atmel DataFlash chips that sit behind a
// host-controlled SPI bridge (an FPGA speaking the FPGALink channel protocol,
// or an FTDI MPSSE adapter).
//
// The bridge is reached through a [Transport] with two channels: channel 0
// shifts SPI data, channel 1 writes the bridge's configuration register
// (chip-select, clock speed, read-back suppression).
//
// # References:
//
// SD
//   - [SDPLS]: SD Specifications Part 1 Physical Layer Simplified Specification (https://www.sdcard.org/downloads/pls/)
//   - [SDPLS|7.2 SPI Bus Protocol], [SDPLS|7.3 SPI Mode Transaction Packets]
//   - [SDPLS|5.3 CSD Register]
//
// DataFlash
//   - [AT45DB161D]: Atmel 16-megabit DataFlash datasheet (https://www.mouser.com/datasheet/2/268/doc3500-1065324.pdf)
//
// Bridges
//   - [FPGALink]: FPGALink user manual (https://github.com/makestuff/libfpgalink)
//   - [FTDI-AN_108]: Command Processor for MPSSE and MCU Host Bus Emulation Modes (https://ftdichip.com/wp-content/uploads/2020/08/AN_108_Command_Processor_for_MPSSE_and_MCU_Host_Bus_Emulation_Modes.pdf)
//   - [FTDI-AN_114]: Interfacing FT2232H Hi-Speed Devices To SPI Bus (https://ftdichip.com/wp-content/uploads/2020/08/AN_114_FTDI_Hi_Speed_USB_To_SPI_Example.pdf)
//   - [FTDI-AN_135]: FTDI MPSSE Basics (https://ftdichip.com/wp-content/uploads/2020/08/AN_135_MPSSE_Basics.pdf)
package spicard
